package identity

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Samoo1234/clinica-sub000/internal/apperr"
)

// Resolver maps scheduling data onto a central registry record.
type Resolver struct {
	registry Registry
	log      zerolog.Logger
}

func NewResolver(registry Registry, log zerolog.Logger) *Resolver {
	return &Resolver{registry: registry, log: log.With().Str("component", "identity").Logger()}
}

// Resolve finds the registry record for q. CPF always wins over phone; phone
// matches are filtered by name so household members sharing a phone stay
// distinct. On a miss, Provision mode creates an incomplete record.
func (r *Resolver) Resolve(ctx context.Context, q Query, mode Mode) (Match, error) {
	cpf := NormalizeCPF(q.CPF)
	phone := NormalizePhone(q.Phone)
	if cpf != "" && len(cpf) != 11 {
		r.log.Debug().Int("cpf_len", len(cpf)).Msg("ignoring malformed cpf")
		cpf = ""
	}
	if cpf == "" && phone == "" {
		return Match{}, apperr.Validation("identity.Resolve", "phone or cpf is required")
	}

	if cpf != "" {
		c, err := r.registry.FindByCPF(ctx, cpf)
		switch {
		case err == nil:
			return Match{Record: c, Confidence: ConfidenceExactCPF}, nil
		case !errors.Is(err, apperr.ErrNotFound):
			return Match{}, upstream("registry.FindByCPF", err)
		}
	}

	if phone != "" {
		rows, err := r.registry.FindByPhone(ctx, phone)
		if err != nil {
			return Match{}, upstream("registry.FindByPhone", err)
		}
		if m, ok := pickByPhone(rows, cpf, q.Name); ok {
			return m, nil
		}
	}

	if mode == ReadOnly {
		return Match{Confidence: ConfidenceNone}, nil
	}
	return r.provision(ctx, q, cpf, phone)
}

func (r *Resolver) provision(ctx context.Context, q Query, cpf, phone string) (Match, error) {
	c := &Customer{
		Name:                 strings.TrimSpace(q.Name),
		Phone:                phone,
		RegistrationComplete: false,
		Active:               true,
	}
	if cpf != "" {
		c.CPF = &cpf
	}
	if e := strings.TrimSpace(q.Email); e != "" {
		c.Email = &e
	}
	if b := NormalizeDate(q.BirthDate); b != "" {
		c.BirthDate = &b
	}
	err := r.registry.Create(ctx, c)
	if err == nil {
		r.log.Info().Str("customer_id", c.ID.String()).Bool("with_cpf", cpf != "").Msg("provisioned registry customer")
		return Match{Record: c, Confidence: ConfidenceNone, Provisioned: true}, nil
	}
	if cpf != "" && errors.Is(err, apperr.ErrConflict) {
		// Another caller registered this CPF between our lookup and insert.
		existing, ferr := r.registry.FindByCPF(ctx, cpf)
		if ferr != nil {
			return Match{}, upstream("registry.FindByCPF", ferr)
		}
		return Match{Record: existing, Confidence: ConfidenceExactCPF}, nil
	}
	return Match{}, upstream("registry.Create", err)
}

// pickByPhone ranks the phone candidates. Candidates with a CPF different from
// the query's are provably someone else and are dropped before name matching.
func pickByPhone(rows []Customer, cpf, name string) (Match, bool) {
	var cands []Customer
	for _, c := range rows {
		if !c.Active {
			continue
		}
		if cpf != "" && c.CPF != nil && NormalizeCPF(*c.CPF) != "" && NormalizeCPF(*c.CPF) != cpf {
			continue
		}
		cands = append(cands, c)
	}
	if len(cands) == 0 {
		return Match{}, false
	}
	sortCandidates(cands)
	n := len(cands)

	if strings.TrimSpace(name) == "" {
		return Match{Record: &cands[0], Confidence: ConfidencePhoneOnly, Candidates: n}, true
	}
	for i := range cands {
		if namesEqual(cands[i].Name, name) {
			return Match{Record: &cands[i], Confidence: ConfidencePhoneAndName, Candidates: n}, true
		}
	}
	var weak []int
	for i := range cands {
		if NormalizeName(cands[i].Name) == "" || namePrefix(cands[i].Name, name) {
			weak = append(weak, i)
		}
	}
	if len(weak) == 1 {
		return Match{Record: &cands[weak[0]], Confidence: ConfidencePhoneOnly, Candidates: n}, true
	}
	return Match{}, false
}

// sortCandidates puts complete registrations first, then lowest code, then id,
// so repeated resolutions pick the same row.
func sortCandidates(c []Customer) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].RegistrationComplete != c[j].RegistrationComplete {
			return c[i].RegistrationComplete
		}
		ci, cj := deref(c[i].Code), deref(c[j].Code)
		if ci != cj {
			if ci == "" || cj == "" {
				return cj == ""
			}
			return ci < cj
		}
		return c[i].ID.String() < c[j].ID.String()
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func upstream(op string, err error) error {
	if apperr.KindOf(err) == apperr.KindUpstream {
		return err
	}
	return apperr.Upstream(op, err)
}
