// errors.go — ошибки ответов API и их классификация.
package dashclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// APIError — ответ сервера с не-2xx статусом.
type APIError struct {
	// StatusCode — HTTP статус
	StatusCode int
	// Message — текст из поля error тела ответа (может быть пустым)
	Message string
	// Code — машиночитаемый код, если сервер его прислал
	Code string
}

// Error реализует интерфейс error.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("сервер вернул статус %d", e.StatusCode)
	}
	return fmt.Sprintf("сервер вернул статус %d: %s", e.StatusCode, e.Message)
}

// permissionMarkers — подстроки, по которым ответ сервера считается отказом в доступе.
// Сервер пока не гарантирует структурированный код, поэтому сверяется текст ответа.
var permissionMarkers = []string{"permission", "403", "Forbidden"}

// CodeForbidden — машиночитаемый код отказа в доступе в теле ответа.
const CodeForbidden = "FORBIDDEN"

// IsPermissionError сообщает, является ли ошибка отказом в доступе на стороне сервера.
// Учитывается только *APIError: сначала статус и код, затем подстроки
// в Message и Code. Текст транспортных ошибок содержит путь и адрес запроса,
// поэтому он не сверяется.
func IsPermissionError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == 403 || apiErr.Code == CodeForbidden {
		return true
	}
	for _, marker := range permissionMarkers {
		if strings.Contains(apiErr.Message, marker) || strings.Contains(apiErr.Code, marker) {
			return true
		}
	}
	return false
}

// ServerMessage возвращает текст ошибки, присланный сервером, если он есть.
func ServerMessage(err error) (string, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message, true
	}
	return "", false
}

// parseAPIError разбирает тело ответа с ошибкой.
// Поддерживает {"error": "text", "code": "..."} и {"error": {"code": "...", "message": "..."}}.
func parseAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}

	var envelope struct {
		Error json.RawMessage `json:"error"`
		Code  string          `json:"code"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}
	apiErr.Code = envelope.Code

	var text string
	if err := json.Unmarshal(envelope.Error, &text); err == nil {
		apiErr.Message = text
		return apiErr
	}

	var detail struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &detail); err == nil {
		apiErr.Message = detail.Message
		if apiErr.Code == "" {
			apiErr.Code = detail.Code
		}
	}
	return apiErr
}
