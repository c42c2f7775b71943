// Package mqtt 提供 MQTT 主题校验、通配符匹配、ACL 预览和代理连通性探测。
// 控制台只记录配置意图，不向代理推送任何配置。
package mqtt

import (
	"errors"
	"strings"
)

const maxTopicLength = 65535

// 主题校验错误
var (
	ErrTopicEmpty        = errors.New("topic must not be empty")
	ErrTopicTooLong      = errors.New("topic exceeds 65535 bytes")
	ErrTopicNUL          = errors.New("topic must not contain NUL characters")
	ErrTopicWildcard     = errors.New("topic name must not contain wildcards")
	ErrFilterMultiLevel  = errors.New("'#' must be the last level and occupy it entirely")
	ErrFilterSingleLevel = errors.New("'+' must occupy an entire level")
)

func validateCommon(topic string) error {
	if topic == "" {
		return ErrTopicEmpty
	}
	if len(topic) > maxTopicLength {
		return ErrTopicTooLong
	}
	if strings.ContainsRune(topic, 0) {
		return ErrTopicNUL
	}
	return nil
}

// ValidateTopicName 校验发布用主题名（不允许通配符）
func ValidateTopicName(topic string) error {
	if err := validateCommon(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return ErrTopicWildcard
	}
	return nil
}

// ValidateTopicFilter 校验订阅用主题过滤器
func ValidateTopicFilter(filter string) error {
	if err := validateCommon(filter); err != nil {
		return err
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") {
			if level != "#" || i != len(levels)-1 {
				return ErrFilterMultiLevel
			}
		}
		if strings.Contains(level, "+") && level != "+" {
			return ErrFilterSingleLevel
		}
	}
	return nil
}

// HasWildcard 判断主题是否包含通配符
func HasWildcard(topic string) bool {
	return strings.ContainsAny(topic, "+#")
}

// Match 判断主题名是否匹配过滤器。
// 以 $ 开头的主题不会被首层通配符匹配。
func Match(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, level := range fl {
		if level == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if level != "+" && level != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}

// Covers 判断过滤器 outer 是否覆盖过滤器 inner（订阅请求本身可能带通配符）
func Covers(outer, inner string) bool {
	if outer == "" || inner == "" {
		return false
	}
	if strings.HasPrefix(inner, "$") && (strings.HasPrefix(outer, "+") || strings.HasPrefix(outer, "#")) {
		return false
	}

	ol := strings.Split(outer, "/")
	il := strings.Split(inner, "/")
	for i, level := range ol {
		if level == "#" {
			return true
		}
		if i >= len(il) {
			return false
		}
		switch {
		case il[i] == "#":
			return false
		case level == "+":
		case level != il[i]:
			return false
		}
	}
	return len(ol) == len(il)
}
