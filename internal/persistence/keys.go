package persistence

import (
	"fmt"
	"strings"

	"github.com/CasselKim/TTM-sub000/internal/models"
)

// keyspace builds the per-market keys
// {family}:{market}:config|state|rounds|cycles:{id}|cycle_index|stats.
type keyspace struct {
	family models.Family
}

func (k keyspace) prefix() string { return string(k.family) + ":" }

func (k keyspace) base(market string) string {
	return fmt.Sprintf("%s:%s", k.family, market)
}

func (k keyspace) config(market string) string     { return k.base(market) + ":config" }
func (k keyspace) state(market string) string      { return k.base(market) + ":state" }
func (k keyspace) rounds(market string) string     { return k.base(market) + ":rounds" }
func (k keyspace) cycleIndex(market string) string { return k.base(market) + ":cycle_index" }
func (k keyspace) stats(market string) string      { return k.base(market) + ":stats" }
func (k keyspace) cycle(market, id string) string  { return k.base(market) + ":cycles:" + id }

// marketFromStateKey 从 state 键解析出市场, 非 state 键返回 false
func (k keyspace) marketFromStateKey(key string) (string, bool) {
	rest := strings.TrimPrefix(key, k.prefix())
	if rest == key || !strings.HasSuffix(rest, ":state") {
		return "", false
	}
	market := strings.TrimSuffix(rest, ":state")
	if market == "" || strings.Contains(market, ":") {
		return "", false
	}
	return market, true
}
