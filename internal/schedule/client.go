package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Samoo1234/clinica-sub000/internal/apperr"
)

// Config holds the agenda endpoint. An empty BaseURL disables the client:
// listings come back empty and status writes are no-ops.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the HTTP implementation of Gateway.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		log: log.With().Str("component", "schedule").Logger(),
	}
}

func (c *Client) configured() bool { return c.cfg.BaseURL != "" }

func (c *Client) ListAppointments(ctx context.Context, f Filters) ([]Appointment, error) {
	if !c.configured() {
		return []Appointment{}, nil
	}
	u, err := url.Parse(c.cfg.BaseURL + "/agendamentos")
	if err != nil {
		return nil, apperr.Upstream("schedule.ListAppointments", err)
	}
	q := u.Query()
	for k, v := range map[string]string{"data": f.Date, "de": f.From, "ate": f.To, "status": f.Status, "medico_id": f.DoctorID} {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	var out []Appointment
	if err := c.do(ctx, http.MethodGet, u.String(), nil, &out); err != nil {
		return nil, apperr.Upstream("schedule.ListAppointments", err)
	}
	if out == nil {
		out = []Appointment{}
	}
	return out, nil
}

func (c *Client) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	if !c.configured() {
		return nil, apperr.NotFound("schedule.GetAppointment", fmt.Errorf("agenda not configured"))
	}
	var out Appointment
	err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+"/agendamentos/"+url.PathEscape(id), nil, &out)
	if err != nil {
		if se, ok := err.(*statusError); ok && se.code == http.StatusNotFound {
			return nil, apperr.NotFound("schedule.GetAppointment", err)
		}
		return nil, apperr.Upstream("schedule.GetAppointment", err)
	}
	return &out, nil
}

// UpdateStatus PATCHes the appointment status. A 4xx answer is reported as
// (false, nil); transport failures and 5xx come back as Upstream errors.
func (c *Client) UpdateStatus(ctx context.Context, id, status string) (bool, error) {
	if !c.configured() {
		c.log.Debug().Str("appointment_id", id).Msg("agenda not configured, status write skipped")
		return false, ErrDisabled
	}
	if !ValidStatus(status) {
		return false, apperr.Validation("schedule.UpdateStatus", fmt.Sprintf("unknown status %q", status))
	}
	body, _ := json.Marshal(map[string]string{"status": status})
	err := c.do(ctx, http.MethodPatch, c.cfg.BaseURL+"/agendamentos/"+url.PathEscape(id)+"/status", body, nil)
	if err != nil {
		if se, ok := err.(*statusError); ok && se.code < 500 {
			c.log.Warn().Str("appointment_id", id).Int("status", se.code).Msg("agenda refused status update")
			return false, nil
		}
		return false, apperr.Upstream("schedule.UpdateStatus", err)
	}
	return true, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("agenda: %d %s: %s", e.code, http.StatusText(e.code), e.body)
}

func (c *Client) do(ctx context.Context, method, reqURL string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.log.Debug().Str("method", method).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("agenda call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(slurp))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("agenda: decode: %w", err)
	}
	return nil
}
