package handlers

import (
	"net/http"
	"strings"

	"github.com/gonglijing/iotconsole/internal/apiclient"
	"github.com/gonglijing/iotconsole/internal/catalog"
	"github.com/gonglijing/iotconsole/internal/models"
	"github.com/gonglijing/iotconsole/internal/mqtt"
	"github.com/gonglijing/iotconsole/internal/validation"
)

// ==================== MQTT 辅助接口 ====================

// ProbeDraft 使用未保存的代理表单测试连接
func (h *Handler) ProbeDraft(w http.ResponseWriter, r *http.Request) {
	var draft models.MQTTBroker
	if !parseRequestOrWriteBadRequestDefault(w, r, &draft) {
		return
	}
	if strings.TrimSpace(draft.Host) == "" || draft.Puerto < 1 || draft.Puerto > 65535 {
		WriteBadRequestDef(w, apiErrProbeInvalid)
		return
	}
	WriteSuccess(w, h.prober.Probe(r.Context(), &draft))
}

// ProbeBroker 测试已保存的代理；请求体可提供 password（上游不返回密码）
func (h *Handler) ProbeBroker(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDOrWriteBadRequestDefault(w, r)
	if !ok {
		return
	}
	client, rec := h.client(r)
	if rec == nil {
		WriteUnauthorized(w, msgSessionExpired)
		return
	}
	broker, err := catalog.Brokers.Get(r.Context(), client, id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	var override struct {
		Password string `json:"password"`
	}
	if r.ContentLength > 0 {
		if !parseRequestOrWriteBadRequestDefault(w, r, &override) {
			return
		}
	}
	if override.Password != "" {
		broker.Password = override.Password
	}
	WriteSuccess(w, h.prober.Probe(r.Context(), broker))
}

// ACLCheckResult ACL 预览结果
type ACLCheckResult struct {
	mqtt.Decision
	Username string `json:"username"`
	Topic    string `json:"topic"`
	Action   string `json:"action"`
	Rules    int    `json:"rules_evaluated"`
}

// CheckACL 预览某用户对主题的发布/订阅是否被允许
func (h *Handler) CheckACL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	username := strings.TrimSpace(q.Get("username"))
	topic := strings.TrimSpace(q.Get("topic"))
	action := strings.ToLower(strings.TrimSpace(q.Get("action")))
	if action == "" {
		action = mqtt.ActionPublish
	}
	if username == "" || topic == "" || (action != mqtt.ActionPublish && action != mqtt.ActionSubscribe) {
		WriteBadRequestDef(w, apiErrACLCheckInvalid)
		return
	}

	errs := validation.Errors{}
	if action == mqtt.ActionPublish {
		validation.TopicName(errs, "topic", topic)
	} else {
		validation.TopicFilter(errs, "topic", topic)
	}
	if !errs.OK() {
		WriteJSON(w, http.StatusUnprocessableEntity, APIResponse{
			Success: false,
			Error:   apiErrValidation.Message,
			Code:    apiErrValidation.Code,
			Fields:  errs,
		})
		return
	}

	client, rec := h.client(r)
	if rec == nil {
		WriteUnauthorized(w, msgSessionExpired)
		return
	}
	rules, err := h.loadACLRules(r, client)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	WriteSuccess(w, ACLCheckResult{
		Decision: mqtt.CheckACL(rules, username, topic, action),
		Username: username,
		Topic:    topic,
		Action:   action,
		Rules:    len(rules),
	})
}

// loadACLRules 按上游顺序读取全部规则
func (h *Handler) loadACLRules(r *http.Request, client apiclient.Doer) ([]models.ACLRule, error) {
	var rules []models.ACLRule
	q := apiclient.Query{PageSize: 100}
	for page := 1; page <= h.aclMaxPages; page++ {
		q.Page = page
		result, err := catalog.ACLRules.List(r.Context(), client, q)
		if err != nil {
			return nil, err
		}
		rules = append(rules, result.Results...)
		if result.Next == "" || len(result.Results) == 0 || len(rules) >= result.Count {
			break
		}
	}
	return rules, nil
}
