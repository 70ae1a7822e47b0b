package application

import (
	"strconv"
	"strings"
	"time"

	"webhook-gateway/middleware/ingress/domain"
)

// Layout das chaves no store:
//
//	ratelimit:global:minute:<idx>
//	ratelimit:tenant:<tenant>:minute:<idx>
//	ratelimit:tenant:<tenant>:burst:<idx>
//	ratelimit:violations:<tenant>
//	ratelimit:blocked:<tenant>
//	buffer:msgs:{<len(tenant)>:<tenant>:<conversation>}
//	buffer:lock:{<len(tenant)>:<tenant>:<conversation>}
//
// As chaves de buffer usam hash tag para cair no mesmo slot em Redis Cluster,
// já que o dreno apaga lista e lock na mesma transação. O tamanho do tenant
// na frente impede que tenants com ":" no nome colidam com outra conversa.
const (
	keyPrefixRate    = "ratelimit:"
	keyPrefixBlocked = keyPrefixRate + "blocked:"
	keyPrefixTenant  = keyPrefixRate + "tenant:"
)

// windowIndex devolve o índice da janela fixa que contém now e quanto falta para ela acabar.
func windowIndex(now time.Time, window time.Duration) (int64, time.Duration) {
	size := int64(window / time.Second)
	if size <= 0 {
		size = 1
	}
	unix := now.Unix()
	idx := unix / size
	end := time.Unix((idx+1)*size, 0)
	return idx, end.Sub(now)
}

func globalMinuteKey(idx int64) string {
	return keyPrefixRate + "global:minute:" + strconv.FormatInt(idx, 10)
}

func tenantMinuteKey(t domain.TenantID, idx int64) string {
	return keyPrefixTenant + string(t) + ":minute:" + strconv.FormatInt(idx, 10)
}

func tenantBurstKey(t domain.TenantID, idx int64) string {
	return keyPrefixTenant + string(t) + ":burst:" + strconv.FormatInt(idx, 10)
}

func violationsKey(t domain.TenantID) string {
	return keyPrefixRate + "violations:" + string(t)
}

func blockedKey(t domain.TenantID) string {
	return keyPrefixBlocked + string(t)
}

func bufferTag(t domain.TenantID, c domain.ConversationID) string {
	return "{" + strconv.Itoa(len(t)) + ":" + string(t) + ":" + string(c) + "}"
}

func bufferListKey(t domain.TenantID, c domain.ConversationID) string {
	return "buffer:msgs:" + bufferTag(t, c)
}

func bufferLockKey(t domain.TenantID, c domain.ConversationID) string {
	return "buffer:lock:" + bufferTag(t, c)
}

// tenantFromMinuteKey extrai o tenant de "ratelimit:tenant:<tenant>:minute:<idx>".
func tenantFromMinuteKey(key string) (domain.TenantID, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefixTenant)
	if !ok {
		return "", false
	}
	i := strings.LastIndex(rest, ":minute:")
	if i <= 0 {
		return "", false
	}
	return domain.TenantID(rest[:i]), true
}
