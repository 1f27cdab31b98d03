package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/koopa0/system-design/cursor-rooms/pkg/errors"
)

// validator 由需要結構檢查的 payload 實作
type validator interface {
	validate() error
}

// Decode 解析信封
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, apperrors.ErrInvalidPayload.WithCause(err)
	}
	if env.Event == "" {
		return Envelope{}, apperrors.ErrInvalidPayload.WithDetails("missing event")
	}
	return env, nil
}

// DecodeData 解析信封內容並做結構檢查
func DecodeData[T any](env Envelope) (T, error) {
	var out T

	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, apperrors.ErrInvalidPayload.WithDetails(env.Event).WithCause(err)
	}

	if v, ok := any(&out).(validator); ok {
		if err := v.validate(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Encode 編碼送出的訊息
func Encode(event string, data any) ([]byte, error) {
	if data == nil {
		data = Empty{}
	}
	frame, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return frame, nil
}

func (p *CreateRoom) validate() error {
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	if p.DisplayName == "" {
		return apperrors.ErrInvalidPayload.WithDetails("displayName is required")
	}
	return nil
}

func (p *JoinRoom) validate() error {
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	if p.RoomID == "" {
		return apperrors.ErrInvalidPayload.WithDetails("roomId is required")
	}
	if p.DisplayName == "" {
		return apperrors.ErrInvalidPayload.WithDetails("displayName is required")
	}
	return nil
}

func (p *CursorMove) validate() error {
	if p.RoomID == "" {
		return apperrors.ErrInvalidPayload.WithDetails("roomId is required")
	}
	if p.Position == nil {
		return apperrors.ErrInvalidPayload.WithDetails("position is required")
	}
	return nil
}

func (p *JoinMatchmaking) validate() error {
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	if p.DisplayName == "" {
		return apperrors.ErrInvalidPayload.WithDetails("displayName is required")
	}
	return nil
}
