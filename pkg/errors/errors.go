// Package errors 提供房間伺服器的錯誤型別與錯誤碼
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeConflict 狀態衝突（例如已在房間內）
	ErrCodeConflict = "CONFLICT"
	// ErrCodeExhausted 識別碼空間耗盡
	ErrCodeExhausted = "EXHAUSTED"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError 應用程式錯誤
//
// 比對規則：errors.Is 只比對 Code + Message，
// 所以 Wrap 出來的錯誤仍然可以與預定義錯誤比對。
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 複製一份並添加詳細資訊（預定義錯誤是共享的，不能原地修改）
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause 複製一份並附上底層錯誤，仍可與原本的預定義錯誤比對
func (e *AppError) WithCause(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// 預定義錯誤
var (
	// ErrRoomNotFound 房間不存在或已刪除
	ErrRoomNotFound = New(ErrCodeNotFound, "room not found")

	// ErrRoomCreationFailed 無法產生唯一的房間代碼
	ErrRoomCreationFailed = New(ErrCodeExhausted, "room creation failed")

	// ErrMatchmakingFailed 配對時建立房間失敗
	ErrMatchmakingFailed = New(ErrCodeInternal, "matchmaking failed")

	// ErrAlreadyInRoom 連線已在房間內，不能排隊配對
	ErrAlreadyInRoom = New(ErrCodeConflict, "already in a room")

	// ErrInvalidPayload 訊息結構不正確
	ErrInvalidPayload = New(ErrCodeInvalidInput, "invalid payload")

	// ErrUnknownEvent 未知的事件類型
	ErrUnknownEvent = New(ErrCodeInvalidInput, "unknown event")
)

// Code 取出錯誤碼，非 AppError 時回傳 ErrCodeInternal
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return err != nil && Code(err) == ErrCodeNotFound
}

// IsInvalidInput 檢查是否為無效輸入錯誤
func IsInvalidInput(err error) bool {
	return err != nil && Code(err) == ErrCodeInvalidInput
}
