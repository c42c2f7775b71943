package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonglijing/iotconsole/internal/models"
)

func TestCheckACL_FirstMatchWins(t *testing.T) {
	rules := []models.ACLRule{
		{Username: "sensor01", Topic: "devices/sensor01/#", Action: ActionPublish, Permission: PermissionAllow},
		{Username: "$all", Topic: "#", Action: ActionAll, Permission: PermissionDeny},
	}

	d := CheckACL(rules, "sensor01", "devices/sensor01/temp", ActionPublish)
	assert.Equal(t, PermissionAllow, d.Result)
	assert.Equal(t, 0, d.Index)
	require.NotNil(t, d.Rule)

	d = CheckACL(rules, "sensor01", "devices/other/temp", ActionPublish)
	assert.Equal(t, PermissionDeny, d.Result)
	assert.Equal(t, 1, d.Index)

	// 动作不匹配时落到下一条规则
	d = CheckACL(rules, "sensor01", "devices/sensor01/temp", ActionSubscribe)
	assert.Equal(t, PermissionDeny, d.Result)
}

func TestCheckACL_NoMatch(t *testing.T) {
	rules := []models.ACLRule{
		{Username: "bob", Topic: "a/b", Action: ActionPublish, Permission: PermissionAllow},
	}
	d := CheckACL(rules, "alice", "a/b", ActionPublish)
	assert.Equal(t, ResultNoMatch, d.Result)
	assert.Equal(t, -1, d.Index)
	assert.Nil(t, d.Rule)

	assert.Equal(t, ResultNoMatch, CheckACL(nil, "alice", "a/b", ActionPublish).Result)
}

func TestCheckACL_UsernamePlaceholder(t *testing.T) {
	rules := []models.ACLRule{
		{Topic: "users/%u/#", Action: ActionAll, Permission: PermissionAllow},
		{Topic: "inbox/${username}", Action: ActionSubscribe, Permission: PermissionAllow},
	}
	assert.Equal(t, PermissionAllow, CheckACL(rules, "ana", "users/ana/status", ActionPublish).Result)
	assert.Equal(t, ResultNoMatch, CheckACL(rules, "ana", "users/bob/status", ActionPublish).Result)
	assert.Equal(t, PermissionAllow, CheckACL(rules, "ana", "inbox/ana", ActionSubscribe).Result)
}

func TestCheckACL_EqLiteral(t *testing.T) {
	rules := []models.ACLRule{
		{Username: "ops", Topic: "eq devices/#", Action: ActionSubscribe, Permission: PermissionAllow},
	}
	assert.Equal(t, PermissionAllow, CheckACL(rules, "ops", "devices/#", ActionSubscribe).Result)
	assert.Equal(t, ResultNoMatch, CheckACL(rules, "ops", "devices/1", ActionSubscribe).Result)
}

func TestCheckACL_SubscribeFilterCoverage(t *testing.T) {
	rules := []models.ACLRule{
		{Username: "ops", Topic: "devices/#", Action: ActionSubscribe, Permission: PermissionAllow},
	}
	assert.Equal(t, PermissionAllow, CheckACL(rules, "ops", "devices/+/telemetry", ActionSubscribe).Result)
	assert.Equal(t, ResultNoMatch, CheckACL(rules, "ops", "#", ActionSubscribe).Result)
}
