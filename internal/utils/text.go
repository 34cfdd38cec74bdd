package utils

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	stripPolicy = bluemonday.StrictPolicy() // 移除所有标签，只留文本
	spaceRe     = regexp.MustCompile(`\s+`)
)

// StripHTML 去掉 HTML 标签并折叠空白，用于标题/摘要等文本字段
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	cleaned := stripPolicy.Sanitize(s)
	cleaned = html.UnescapeString(cleaned)
	return strings.TrimSpace(spaceRe.ReplaceAllString(cleaned, " "))
}

// Truncate 按 rune 截断，避免把多字节字符切坏
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
