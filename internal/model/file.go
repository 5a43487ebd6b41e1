package model

import "time"

// FileDescriptor 对象存储中的文件描述（只读，由列表派生）
type FileDescriptor struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	URL         string    `json:"url"`
	Size        int64     `json:"size"`
	ContentType string    `json:"type"`
	CreatedAt   time.Time `json:"created"`
}
