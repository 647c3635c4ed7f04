// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

// MaxReviewTextLength — предельная длина текста рецензии в символах.
const MaxReviewTextLength = 20000

// IsValidReviewURL проверяет ссылку на опубликованную рецензию: абсолютный http(s) URL с хостом.
func IsValidReviewURL(raw string) bool {
	if raw == "" || strings.ContainsAny(raw, " \t\n") {
		return false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

// IsValidReviewText проверяет текст рецензии: непустой и не длиннее MaxReviewTextLength.
func IsValidReviewText(text string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	return n > 0 && n <= MaxReviewTextLength
}

// IsValidPercent проверяет процент перебронирования.
func IsValidPercent(p int) bool {
	return p >= 0 && p <= 100
}

// IsValidPace проверяет параметры кампании: цель и темп положительны, темп не больше цели.
func IsValidPace(target, perWeek int) bool {
	return target > 0 && perWeek > 0 && perWeek <= target
}
