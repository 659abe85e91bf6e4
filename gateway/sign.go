package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"
)

// SignParams 将参数编码为排序后的query串并计算HMAC-SHA256签名。
// 返回 (query, signature)，不含signature本身。
func SignParams(params map[string]string, secret string) (string, string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		values.Set(k, params[k])
	}
	query := values.Encode()

	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(query))
	return query, fmt.Sprintf("%x", h.Sum(nil))
}

// timestampMillis 当前UTC毫秒时间戳字符串
func timestampMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
