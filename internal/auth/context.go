package auth

import "context"

type claimsKey struct{}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom devolve nil fora de rotas autenticadas.
func ClaimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// Actor identifica quem fez a request, para auditoria e escopo.
func Actor(ctx context.Context) (role, userID string) {
	if c := ClaimsFrom(ctx); c != nil {
		return c.Role, c.UserID
	}
	return "", ""
}

// DoctorIDFrom devolve o id do médico logado; nil para recepção/admin.
func DoctorIDFrom(ctx context.Context) *string {
	c := ClaimsFrom(ctx)
	if c == nil || c.Role != RoleDoctor || c.DoctorID == nil || *c.DoctorID == "" {
		return nil
	}
	return c.DoctorID
}
