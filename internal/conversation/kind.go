// Package conversation 会话同步：解析会话元数据，维护按时间戳升序的实时消息列表。
package conversation

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"sudooom.im.ripple/internal/model"
)

// Separator 单聊 ID 中两个用户 ID 的分隔符
const Separator = "_"

// ParseKind 含分隔符的 ID 为单聊，否则为群聊
func ParseKind(id string) model.ConversationKind {
	if strings.Contains(id, Separator) {
		return model.KindDirect
	}
	return model.KindGroup
}

// DirectID 由两个用户 ID 组成单聊 ID，按字典序排列保证双方得到同一 ID
func DirectID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + Separator + ids[1]
}

// Members 单聊 ID 拆分出的成员
func Members(id string) []string {
	if ParseKind(id) != model.KindDirect {
		return nil
	}
	return strings.SplitN(id, Separator, 2)
}

// Counterpart 从单聊 ID 中去掉当前用户得到对方 ID
func Counterpart(id, self string) (string, bool) {
	members := Members(id)
	if len(members) != 2 {
		return "", false
	}
	switch self {
	case members[0]:
		return members[1], members[1] != ""
	case members[1]:
		return members[0], members[0] != ""
	}
	return "", false
}

// DisplayName 本地模式会话名：首字母大写
func DisplayName(id string) string {
	r, size := utf8.DecodeRuneInString(id)
	if r == utf8.RuneError {
		return id
	}
	return string(unicode.ToUpper(r)) + id[size:]
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
