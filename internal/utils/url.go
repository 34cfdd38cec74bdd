package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// 规范化时剥离的跟踪参数
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"gclid":        true,
	"mc_cid":       true,
	"mc_eid":       true,
	"ref":          true,
	"source":       true,
}

// CanonicalURL 移除跟踪参数、去掉 fragment、统一小写 scheme/host
// 解析失败时原样返回
func CanonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	query := u.Query()
	for key := range query {
		if trackingParams[strings.ToLower(key)] {
			query.Del(key)
		}
	}
	u.RawQuery = query.Encode()
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// URLHash 规范化 URL 的 SHA-256，抓取层去重键
func URLHash(raw string) string {
	return SHA256(CanonicalURL(raw))
}

// ContentHash 标题+摘要+正文的组合哈希，用于内容变更检测
func ContentHash(title, summary, content string) string {
	return SHA256(title + "\n" + summary + "\n" + content)
}

// SHA256 十六进制摘要
func SHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
