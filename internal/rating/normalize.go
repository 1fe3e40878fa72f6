package rating

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Clark-Hu/triage-ratings/internal/domain"
)

// fieldNames lists the stored names of one canonical field, preferred first.
// The first name present in a record wins; writes use the first name.
type fieldNames []string

func (f fieldNames) lookup(raw domain.RawRecord) any {
	for _, name := range f {
		if v, ok := raw[name]; ok {
			return v
		}
	}
	return nil
}

func (f fieldNames) primary() string {
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// fieldMap names the stored fields of one origin. display is optional.
type fieldMap struct {
	id, name, comment, score, createdAt, display fieldNames
}

var fieldMaps = map[domain.Origin]fieldMap{
	domain.OriginRelational: {
		id:        fieldNames{"id"},
		name:      fieldNames{"name"},
		comment:   fieldNames{"comment"},
		score:     fieldNames{"score"},
		createdAt: fieldNames{"created_at"},
	},
	// Documents carry the names the triage web app has always written;
	// English names are accepted for records imported under them.
	domain.OriginDocument: {
		id:        fieldNames{"_id"},
		name:      fieldNames{"nombre", "name"},
		comment:   fieldNames{"comentario", "comment"},
		score:     fieldNames{"calificacion", "score"},
		createdAt: fieldNames{"fecha_creacion", "created_at"},
		display:   fieldNames{"fecha_creacion_display"},
	},
}

// naiveLayouts are parsed in the configured zone.
var naiveLayouts = []string{
	domain.DisplayLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// Normalizer maps stored records of either origin onto domain.Rating.
type Normalizer struct {
	loc *time.Location
	now func() time.Time
}

// NewNormalizer returns a Normalizer that attaches loc to zone-less
// timestamps. now supplies created_at for records that have none; nil means
// time.Now.
func NewNormalizer(loc *time.Location, now func() time.Time) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{loc: loc, now: now}
}

// Location returns the zone attached to naive timestamps.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Normalize maps raw onto a Rating tagged with origin. Missing fields take
// their defaults: empty comment, score 0, created_at now. Scores outside
// 1..5 become 0.
func (n *Normalizer) Normalize(raw domain.RawRecord, origin domain.Origin) domain.Rating {
	fields := fieldMaps[origin]
	return domain.Rating{
		ID:        identityOf(fields.id.lookup(raw)),
		Name:      stringOf(fields.name.lookup(raw)),
		Comment:   stringOf(fields.comment.lookup(raw)),
		Score:     scoreOf(fields.score.lookup(raw)),
		CreatedAt: n.createdAt(fields.createdAt.lookup(raw), fields.display.lookup(raw)),
		Origin:    origin,
	}
}

// NormalizeAll normalizes every record of one origin.
func (n *Normalizer) NormalizeAll(raws []domain.RawRecord, origin domain.Origin) []domain.Rating {
	out := make([]domain.Rating, 0, len(raws))
	for _, raw := range raws {
		out = append(out, n.Normalize(raw, origin))
	}
	return out
}

// Denormalize is the inverse mapping: the canonical fields of r under its
// origin's stored names.
func Denormalize(r domain.Rating) domain.RawRecord {
	fields := fieldMaps[r.Origin]
	return domain.RawRecord{
		fields.id.primary():        r.ID,
		fields.name.primary():      r.Name,
		fields.comment.primary():   r.Comment,
		fields.score.primary():     r.Score,
		fields.createdAt.primary(): r.CreatedAt,
	}
}

func (n *Normalizer) createdAt(stored, display any) time.Time {
	if t, ok := n.toTime(stored); ok {
		return t
	}
	if t, ok := n.toTime(display); ok {
		return t
	}
	return n.now()
}

func (n *Normalizer) toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return *t, true
	case primitive.DateTime:
		return t.Time(), true
	case string:
		parsed, ok := n.parseTime(strings.TrimSpace(t))
		return parsed, ok && !parsed.IsZero()
	default:
		return time.Time{}, false
	}
}

func (n *Normalizer) parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, n.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func identityOf(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	case int64:
		return strconv.FormatInt(id, 10)
	case int32:
		return strconv.FormatInt(int64(id), 10)
	case int:
		return strconv.Itoa(id)
	default:
		return fmt.Sprint(id)
	}
}

func stringOf(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case *string:
		if s == nil {
			return ""
		}
		return *s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

func scoreOf(v any) int {
	var score int64
	switch s := v.(type) {
	case int:
		score = int64(s)
	case int8:
		score = int64(s)
	case int16:
		score = int64(s)
	case int32:
		score = int64(s)
	case int64:
		score = s
	case uint8:
		score = int64(s)
	case uint16:
		score = int64(s)
	case uint32:
		score = int64(s)
	case float32:
		return scoreOf(float64(s))
	case float64:
		if math.IsNaN(s) || s != math.Trunc(s) {
			return 0
		}
		score = int64(s)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0
		}
		score = int64(parsed)
	default:
		return 0
	}
	if score < domain.MinScore || score > domain.MaxScore {
		return 0
	}
	return int(score)
}
