package router

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.ripple/internal/app"
	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/backend/memory"
	"sudooom.im.ripple/internal/config"
	"sudooom.im.ripple/internal/conversation"
	"sudooom.im.ripple/internal/handler"
	"sudooom.im.ripple/internal/localstore"
	"sudooom.im.ripple/internal/model"
	"sudooom.im.ripple/internal/workerpool"
	appErrors "sudooom.im.ripple/pkg/errors"
	"sudooom.im.ripple/pkg/jwt"
)

// APIResponse 用于解析响应体
type APIResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	engine *gin.Engine
	client *app.Client
	set    *memory.Set
}

func newTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)

	set := memory.NewSet("http://localhost")
	local, err := localstore.Open(t.TempDir())
	require.NoError(t, err)
	pool := workerpool.New(2, 16, nil)
	t.Cleanup(pool.Shutdown)

	cfg := config.Defaults()
	cfg.App.AdminEmail = "ann@ripple.dev"
	cfg.SmartReply.Tick = 10 * time.Millisecond
	cfg.SmartReply.Debounce = 20 * time.Millisecond

	client := app.New(app.Options{Config: cfg, Backend: set.Backend(backend.ModeConnected), Local: local, Pool: pool})
	require.NoError(t, client.Start(context.Background()))
	t.Cleanup(client.Close)

	jwtSvc := jwt.NewService(cfg.JWT.SecretKey, cfg.JWT.AccessExpire)
	return &testServer{engine: SetupRouter(client, jwtSvc, nil), client: client, set: set}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.serve(t, req)
}

func (s *testServer) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, APIResponse) {
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var resp APIResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (s *testServer) signup(t *testing.T, name, email string) (string, *model.Identity) {
	w, resp := s.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"name": name, "email": email, "password": "secret1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		AccessToken string          `json:"access_token"`
		Identity    *model.Identity `json:"identity"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.NotEmpty(t, data.AccessToken)
	return data.AccessToken, data.Identity
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestAuth_SignupAndMe(t *testing.T) {
	s := newTestServer(t)
	token, identity := s.signup(t, "Ann", "ann@ripple.dev")
	assert.Equal(t, "Ann", identity.DisplayName)

	w, resp := s.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me model.Identity
	require.NoError(t, json.Unmarshal(resp.Data, &me))
	assert.Equal(t, identity.ID, me.ID)
	assert.Equal(t, "ann@ripple.dev", me.Email)
}

func TestAuth_LoginBadPassword(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "Ann", "ann@ripple.dev")

	w, resp := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "ann@ripple.dev", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, appErrors.CodeInvalidCredentials, resp.Code)
}

func TestAuth_MissingBody(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.CodeInvalidParams, resp.Code)
}

func TestAuth_TokenRequired(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, appErrors.CodeNotAuthenticated, resp.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/auth/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_TokenOfReplacedIdentityRejected(t *testing.T) {
	s := newTestServer(t)
	first, _ := s.signup(t, "Ann", "ann@ripple.dev")
	s.signup(t, "Bob", "bob@ripple.dev")

	w, _ := s.do(t, http.MethodGet, "/api/v1/auth/me", first, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_Logout(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup(t, "Ann", "ann@ripple.dev")

	w, _ := s.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, s.client.Session().Current())

	w, _ = s.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChat_SendAndGet(t *testing.T) {
	s := newTestServer(t)
	token, identity := s.signup(t, "Ann", "ann@ripple.dev")
	chatID := conversation.DirectID(identity.ID, "bob")

	w, resp := s.do(t, http.MethodPost, "/api/v1/chats/"+chatID+"/messages", token, map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var msg model.Message
	require.NoError(t, json.Unmarshal(resp.Data, &msg))
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, identity.ID, msg.SenderID)

	w, resp = s.do(t, http.MethodGet, "/api/v1/chats/"+chatID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var room handler.RoomResponse
	require.NoError(t, json.Unmarshal(resp.Data, &room))
	assert.Equal(t, model.KindDirect, room.Conversation.Kind)
	require.Len(t, room.Snapshot.Messages, 1)
	assert.Equal(t, "hello", room.Snapshot.Messages[0].Text)
	assert.Empty(t, room.Composer.Draft)
}

func TestChat_NonParticipantForbidden(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup(t, "Ann", "ann@ripple.dev")

	w, resp := s.do(t, http.MethodPost, "/api/v1/chats/bob_carol/messages", token, map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, appErrors.CodeNotParticipant, resp.Code)
}

func TestChat_DraftAndEmoji(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup(t, "Ann", "ann@ripple.dev")

	w, _ := s.do(t, http.MethodPut, "/api/v1/chats/general/draft", token, map[string]string{"text": "party "})
	require.Equal(t, http.StatusOK, w.Code)
	w, resp := s.do(t, http.MethodPut, "/api/v1/chats/general/draft", token, map[string]string{"emoji": "🎉"})
	require.Equal(t, http.StatusOK, w.Code)

	var state struct {
		Draft string `json:"draft"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &state))
	assert.Equal(t, "party 🎉", state.Draft)

	w, _ = s.do(t, http.MethodPut, "/api/v1/chats/general/draft", token, map[string]string{"emoji": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_AttachAndDownload(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup(t, "Ann", "ann@ripple.dev")

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("meeting at noon"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chats/general/attachments", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w, resp := s.serve(t, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var started handler.UploadResponse
	require.NoError(t, json.Unmarshal(resp.Data, &started))
	assert.True(t, strings.HasPrefix(started.Path, "chat-attachments/general/"))
	assert.True(t, strings.HasSuffix(started.Path, "_notes.txt"))

	room, err := s.client.Room("general")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(room.View.Messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "notes.txt", room.View.Messages()[0].Attachment.Name)

	dl := httptest.NewRequest(http.MethodGet, "/files/"+started.Path, nil)
	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, dl)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "meeting at noon", w.Body.String())

	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/missing.txt", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChat_CreateGroup(t *testing.T) {
	s := newTestServer(t)
	token, identity := s.signup(t, "Ann", "ann@ripple.dev")

	w, resp := s.do(t, http.MethodPost, "/api/v1/groups", token, map[string]interface{}{
		"name": "Book Club", "participantIds": []string{"b", "c"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(resp.Data, &conv))
	assert.Equal(t, "Book Club", conv.Name)
	assert.Equal(t, []string{identity.ID, "b", "c"}, conv.ParticipantIDs)
}

func TestChat_SelectSuggestionOutOfRange(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup(t, "Ann", "ann@ripple.dev")

	w, _ := s.do(t, http.MethodPost, "/api/v1/chats/general/suggestions/7", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.do(t, http.MethodPost, "/api/v1/chats/general/suggestions/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFiles_List(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup(t, "Ann", "ann@ripple.dev")
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.set.Objects.PutBytes("chat-attachments/general/1_a.png", []byte("a"), "image/png", t0)
	s.set.Objects.PutBytes("stories/b.png", []byte("b"), "image/png", t0.Add(time.Minute))

	w, resp := s.do(t, http.MethodGet, "/api/v1/files", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []model.FileDescriptor
	require.NoError(t, json.Unmarshal(resp.Data, &all))
	require.Len(t, all, 2)
	assert.Equal(t, "stories/b.png", all[0].Path)

	w, resp = s.do(t, http.MethodGet, "/api/v1/files?folder=chat", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var chat []model.FileDescriptor
	require.NoError(t, json.Unmarshal(resp.Data, &chat))
	require.Len(t, chat, 1)
	assert.Equal(t, "chat-attachments/general/1_a.png", chat[0].Path)

	w, _ = s.do(t, http.MethodGet, "/api/v1/files?folder=music", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_Directory(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup(t, "Zed", "zed@ripple.dev")

	w, _ := s.do(t, http.MethodGet, "/api/v1/admin/users", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	token, _ = s.signup(t, "Ann", "ann@ripple.dev")
	w, resp := s.do(t, http.MethodGet, "/api/v1/admin/users", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var users []model.UserRecord
	require.NoError(t, json.Unmarshal(resp.Data, &users))
	require.Len(t, users, 2)
	assert.Equal(t, "Ann", users[0].DisplayName)
	assert.Equal(t, "Zed", users[1].DisplayName)
}

func TestStream_PushesSnapshots(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup(t, "Ann", "ann@ripple.dev")

	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/chats/general/stream?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// 注册时立即推送三类事件的当前状态
	seen := map[string]bool{}
	for len(seen) < 3 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev handler.Event
		require.NoError(t, conn.ReadJSON(&ev))
		seen[ev.Type] = true
	}
	assert.True(t, seen[handler.EventSnapshot])
	assert.True(t, seen[handler.EventUpload])
	assert.True(t, seen[handler.EventSuggestions])

	w, _ := s.do(t, http.MethodPost, "/api/v1/chats/general/messages", token, map[string]string{"text": "live"})
	require.Equal(t, http.StatusOK, w.Code)

	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var head struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(raw, &head))
		if head.Type != handler.EventSnapshot {
			continue
		}
		var ev struct {
			Data conversation.Snapshot `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &ev))
		if len(ev.Data.Messages) == 1 {
			assert.Equal(t, "live", ev.Data.Messages[0].Text)
			return
		}
	}
}

func TestStream_ClosedOnConversationChange(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup(t, "Ann", "ann@ripple.dev")

	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/chats/general/stream?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	w, _ := s.do(t, http.MethodGet, "/api/v1/chats/team", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, s.client.RoomCount())

	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
		return
	}
}
