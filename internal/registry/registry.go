// Package registry is the client for the shared central customer registry
// (table "clientes"), a database owned jointly with the scheduling and ERP
// systems. Lookups are exact on digits-only phone and CPF.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Samoo1234/clinica-sub000/internal/apperr"
	"github.com/Samoo1234/clinica-sub000/internal/identity"
)

// Cliente is the registry row. Column names follow the shared schema.
type Cliente struct {
	ID               uuid.UUID                            `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Codigo           *string                              `gorm:"column:codigo"`
	Nome             string                               `gorm:"column:nome;not null"`
	Telefone         string                               `gorm:"column:telefone;index"`
	CPF              *string                              `gorm:"column:cpf;uniqueIndex"`
	RG               *string                              `gorm:"column:rg"`
	Email            *string                              `gorm:"column:email"`
	DataNascimento   *string                              `gorm:"column:data_nascimento;type:date"`
	Endereco         *datatypes.JSONType[identity.Address] `gorm:"column:endereco;type:jsonb"`
	CadastroCompleto bool                                 `gorm:"column:cadastro_completo;not null;default:false"`
	Active           bool                                 `gorm:"column:active;not null;default:true"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName overrides GORM table name.
func (Cliente) TableName() string { return "clientes" }

// Client implements identity.Registry over GORM.
type Client struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open connects to the registry database. Use AutoMigrate only against a dev
// registry; the shared production schema is owned elsewhere.
func Open(dsn string, log zerolog.Logger) (*Client, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: open: %w", err)
	}
	return New(db, log), nil
}

func New(db *gorm.DB, log zerolog.Logger) *Client {
	return &Client{db: db, log: log.With().Str("component", "registry").Logger()}
}

func (c *Client) AutoMigrate(ctx context.Context) error {
	return c.db.WithContext(ctx).AutoMigrate(&Cliente{})
}

func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (c *Client) FindByCPF(ctx context.Context, cpf string) (*identity.Customer, error) {
	var row Cliente
	err := c.db.WithContext(ctx).Where("cpf = ?", identity.NormalizeCPF(cpf)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("registry.FindByCPF", err)
	}
	if err != nil {
		return nil, apperr.Upstream("registry.FindByCPF", err)
	}
	return toCustomer(row), nil
}

// FindByPhone returns every row sharing the phone, active or not; the resolver
// decides which ones count.
func (c *Client) FindByPhone(ctx context.Context, phone string) ([]identity.Customer, error) {
	var rows []Cliente
	err := c.db.WithContext(ctx).
		Where("telefone = ?", identity.NormalizePhone(phone)).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Upstream("registry.FindByPhone", err)
	}
	out := make([]identity.Customer, len(rows))
	for i := range rows {
		out[i] = *toCustomer(rows[i])
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id uuid.UUID) (*identity.Customer, error) {
	var row Cliente
	err := c.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("registry.Get", err)
	}
	if err != nil {
		return nil, apperr.Upstream("registry.Get", err)
	}
	return toCustomer(row), nil
}

// Create inserts a new customer. A row already holding the CPF makes the insert
// a no-op (ON CONFLICT DO NOTHING) reported as a Conflict so the caller re-reads.
func (c *Client) Create(ctx context.Context, cust *identity.Customer) error {
	row := fromCustomer(*cust)
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	res := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "cpf"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return apperr.Conflict("registry.Create", res.Error)
		}
		return apperr.Upstream("registry.Create", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict("registry.Create", fmt.Errorf("cpf already registered"))
	}
	*cust = *toCustomer(row)
	return nil
}

// CompleteRegistration fills the missing registration fields of a provisioned
// customer and flags it complete. Fields already set are left as they are.
func (c *Client) CompleteRegistration(ctx context.Context, id uuid.UUID, upd identity.Customer) (*identity.Customer, error) {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Cliente
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{"cadastro_completo": true, "updated_at": gorm.Expr("now()")}
		if row.CPF == nil && upd.CPF != nil && identity.ValidCPF(*upd.CPF) {
			updates["cpf"] = identity.NormalizeCPF(*upd.CPF)
		}
		if row.Email == nil && upd.Email != nil {
			updates["email"] = strings.TrimSpace(*upd.Email)
		}
		if row.RG == nil && upd.RG != nil {
			updates["rg"] = strings.TrimSpace(*upd.RG)
		}
		if row.DataNascimento == nil && upd.BirthDate != nil {
			if b := identity.NormalizeDate(*upd.BirthDate); b != "" {
				updates["data_nascimento"] = b
			}
		}
		if row.Endereco == nil && upd.Address != nil && !upd.Address.IsZero() {
			updates["endereco"] = datatypes.NewJSONType(*upd.Address)
		}
		return tx.Model(&Cliente{}).Where("id = ?", id).Updates(updates).Error
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperr.NotFound("registry.CompleteRegistration", err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return nil, apperr.Conflict("registry.CompleteRegistration", err)
	case err != nil:
		return nil, apperr.Upstream("registry.CompleteRegistration", err)
	}
	return c.Get(ctx, id)
}

func toCustomer(r Cliente) *identity.Customer {
	c := &identity.Customer{
		ID:                   r.ID,
		Code:                 r.Codigo,
		Name:                 r.Nome,
		Phone:                r.Telefone,
		CPF:                  r.CPF,
		RG:                   r.RG,
		Email:                r.Email,
		BirthDate:            dateOnly(r.DataNascimento),
		RegistrationComplete: r.CadastroCompleto,
		Active:               r.Active,
	}
	if r.Endereco != nil {
		a := r.Endereco.Data()
		c.Address = &a
	}
	return c
}

func fromCustomer(c identity.Customer) Cliente {
	r := Cliente{
		ID:               c.ID,
		Codigo:           c.Code,
		Nome:             strings.TrimSpace(c.Name),
		Telefone:         identity.NormalizePhone(c.Phone),
		RG:               c.RG,
		Email:            c.Email,
		CadastroCompleto: c.RegistrationComplete,
		Active:           c.Active,
	}
	if c.BirthDate != nil {
		if b := identity.NormalizeDate(*c.BirthDate); b != "" {
			r.DataNascimento = &b
		}
	}
	if c.CPF != nil {
		if n := identity.NormalizeCPF(*c.CPF); n != "" {
			r.CPF = &n
		}
	}
	if c.Address != nil && !c.Address.IsZero() {
		j := datatypes.NewJSONType(*c.Address)
		r.Endereco = &j
	}
	return r
}

// dateOnly trims a driver timestamp ("2006-01-02T00:00:00Z") to "2006-01-02".
func dateOnly(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	if len(v) > 10 {
		v = v[:10]
	}
	return &v
}
