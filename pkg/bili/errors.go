package bili

import (
	"errors"
	"fmt"
)

// Failure taxonomy. Every failure is scoped to one candidate or one
// search invocation; nothing here aborts sibling candidates.
var (
	// ErrUnresolvedLink: the candidate did not map to any known category/ID.
	ErrUnresolvedLink = errors.New("unresolved link")
	// ErrNotFound: the upstream reports the content is gone or private.
	ErrNotFound = errors.New("content not found")
	// ErrRateLimited: the upstream throttled the request.
	ErrRateLimited = errors.New("rate limited")
	// ErrNoResults: a keyword search matched nothing.
	ErrNoResults = errors.New("no results")
)

// UpstreamError covers network failures, malformed responses and
// non-success API codes. Status is the HTTP status, Code the API-level
// code when one was decoded.
type UpstreamError struct {
	Status int
	Code   int64
	Msg    string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream error: %v", e.Err)
	}
	return fmt.Sprintf("upstream error: status=%d code=%d msg=%s", e.Status, e.Code, e.Msg)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// UserMessage maps a failure to the short reply shown in chat.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "该内容不存在或已被删除"
	case errors.Is(err, ErrNoResults):
		return "未找到相关视频"
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUnresolvedLink):
		return "解析失败"
	default:
		return "解析失败"
	}
}
