package backfill

import (
	"go.uber.org/zap"

	"casework/internal/domain"
	"casework/internal/logging"
)

// Directory resolves an organisation name or acronym to its registration
// number. When two organisations share a key the later one wins.
type Directory struct {
	byKey map[string]string
	orgs  map[string]domain.Organisation
}

// NewDirectory indexes orgs by name and acronym in order. Collisions are
// logged and the later entry replaces the earlier one.
func NewDirectory(orgs []domain.Organisation, logger *zap.Logger) Directory {
	log := logging.OrNop(logger)
	d := Directory{
		byKey: make(map[string]string, len(orgs)*2),
		orgs:  make(map[string]domain.Organisation, len(orgs)),
	}
	put := func(key, rn string) {
		if key == "" {
			return
		}
		if prev, ok := d.byKey[key]; ok && prev != rn {
			log.Warn("organisation lookup key collision; later entry wins",
				zap.String("key", key), zap.String("previous_rn", prev), zap.String("rn", rn))
		}
		d.byKey[key] = rn
	}
	for _, o := range orgs {
		put(o.Name, o.RNNumber)
		put(o.Acronym, o.RNNumber)
		d.orgs[o.RNNumber] = o
	}
	return d
}

// Lookup returns the registration number for a name or acronym.
func (d Directory) Lookup(nameOrAcronym string) (string, bool) {
	rn, ok := d.byKey[nameOrAcronym]
	return rn, ok
}

// Organisation returns the organisation registered under rn.
func (d Directory) Organisation(rn string) (domain.Organisation, bool) {
	o, ok := d.orgs[rn]
	return o, ok
}

func (d Directory) Len() int { return len(d.orgs) }
