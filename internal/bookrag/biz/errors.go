package biz

import "errors"

var (
	// ErrValidation 请求参数不合法，在执行任何工作之前返回。
	ErrValidation = errors.New("invalid request")

	// ErrNotIndexed 图书尚未建立索引。
	ErrNotIndexed = errors.New("book has not been indexed")

	// ErrNoRelevantContent 检索或关键词排序没有找到可用内容。
	ErrNoRelevantContent = errors.New("No relevant content found for the question.")

	// ErrIndexBuild 向量化或建立索引失败。
	ErrIndexBuild = errors.New("failed to build book index")

	// ErrWarmRejected 后台索引队列已满。
	ErrWarmRejected = errors.New("background indexing queue is full")
)

// ValidationError 携带面向调用方的参数错误描述，errors.Is(err, ErrValidation) 成立。
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is 使 ValidationError 匹配 ErrValidation。
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}
