package mqtt

import (
	"strings"

	"github.com/gonglijing/iotconsole/internal/models"
)

// ACL 动作与结果
const (
	ActionPublish   = "publish"
	ActionSubscribe = "subscribe"
	ActionAll       = "all"

	PermissionAllow = "allow"
	PermissionDeny  = "deny"
	ResultNoMatch   = "nomatch"
)

// Actions ACL 规则可选动作
var Actions = []string{ActionPublish, ActionSubscribe, ActionAll}

// Permissions ACL 规则可选权限
var Permissions = []string{PermissionAllow, PermissionDeny}

// Decision ACL 预览结果
type Decision struct {
	Result string          `json:"result"`
	Index  int             `json:"index"`
	Rule   *models.ACLRule `json:"rule,omitempty"`
}

// CheckACL 按顺序评估规则，首条匹配规则决定结果；无匹配返回 nomatch
func CheckACL(rules []models.ACLRule, username, topic, action string) Decision {
	for i := range rules {
		rule := rules[i]
		if !usernameMatches(rule.Username, username) {
			continue
		}
		if !actionMatches(rule.Action, action) {
			continue
		}
		if !topicMatches(expandPlaceholders(rule.Topic, username), topic, action) {
			continue
		}
		permission := strings.ToLower(rule.Permission)
		if permission != PermissionAllow {
			permission = PermissionDeny
		}
		return Decision{Result: permission, Index: i, Rule: &rule}
	}
	return Decision{Result: ResultNoMatch, Index: -1}
}

func usernameMatches(ruleUser, username string) bool {
	switch ruleUser {
	case "", "$all", "*":
		return true
	default:
		return ruleUser == username
	}
}

func actionMatches(ruleAction, action string) bool {
	ruleAction = strings.ToLower(ruleAction)
	if ruleAction == ActionAll || ruleAction == "" {
		return true
	}
	return ruleAction == strings.ToLower(action)
}

func expandPlaceholders(filter, username string) string {
	filter = strings.ReplaceAll(filter, "${username}", username)
	return strings.ReplaceAll(filter, "%u", username)
}

func topicMatches(ruleTopic, topic, action string) bool {
	// "eq " 前缀表示字面量比较，通配符不展开
	if literal, ok := strings.CutPrefix(ruleTopic, "eq "); ok {
		return literal == topic
	}
	if action == ActionSubscribe && HasWildcard(topic) {
		return Covers(ruleTopic, topic)
	}
	return Match(ruleTopic, topic)
}
