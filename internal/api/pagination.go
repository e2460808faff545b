package api

import (
	"net/http"
	"strconv"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// ParseLimitOffset lê limit/offset da query. limit padrão 20, máximo 100.
func ParseLimitOffset(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = defaultLimit
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, maxLimit)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		offset = n
	}
	return limit, offset
}
