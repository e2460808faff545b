package schedule

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/Samoo1234/clinica-sub000/internal/cache"
)

const listPrefix = "agenda:list:"

// Cached keeps agenda listings in a TTL cache. Single-appointment reads go
// straight through; a status write drops every cached listing.
type Cached struct {
	next  Gateway
	cache *cache.TTL
}

func NewCached(next Gateway, c *cache.TTL) *Cached {
	return &Cached{next: next, cache: c}
}

func listKey(f Filters) string {
	v := url.Values{}
	v.Set("data", f.Date)
	v.Set("de", f.From)
	v.Set("ate", f.To)
	v.Set("status", f.Status)
	v.Set("medico_id", f.DoctorID)
	return listPrefix + v.Encode()
}

func (c *Cached) ListAppointments(ctx context.Context, f Filters) ([]Appointment, error) {
	key := listKey(f)
	if b := c.cache.Get(key); b != nil {
		var out []Appointment
		if json.Unmarshal(b, &out) == nil {
			return out, nil
		}
		c.cache.Delete(key)
	}
	out, err := c.next.ListAppointments(ctx, f)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(out); err == nil {
		c.cache.Set(key, b)
	}
	return out, nil
}

func (c *Cached) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	return c.next.GetAppointment(ctx, id)
}

func (c *Cached) UpdateStatus(ctx context.Context, id, status string) (bool, error) {
	ok, err := c.next.UpdateStatus(ctx, id, status)
	if ok {
		c.cache.DeletePrefix(listPrefix)
	}
	return ok, err
}
