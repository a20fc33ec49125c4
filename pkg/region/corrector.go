package region

import (
	"VehicleCollector/internal/entity"
	"strings"

	"github.com/sirupsen/logrus"
)

// Corrector fills in the municipality of a recognized plate and fixes the
// country of Slovenian plates the recognizer reports as unknown.
type Corrector struct {
	table *Table
	log   *logrus.Logger
}

func NewCorrector(table *Table, log *logrus.Logger) *Corrector {
	return &Corrector{table: table, log: log}
}

func (c *Corrector) Correct(obs *entity.RawObservation) {
	country := strings.ToLower(strings.TrimSpace(obs.CountryCode))

	switch country {
	case entity.CountryAustria:
		c.apply(obs, entity.CountryAustria)
	case entity.CountryUnknown, entity.CountrySlovenia:
		if c.apply(obs, entity.CountrySlovenia) && country == entity.CountryUnknown {
			obs.CountryCode = entity.CountrySlovenia
		}
	}
}

func (c *Corrector) apply(obs *entity.RawObservation, country string) bool {
	code, entry, ok := c.table.Lookup(country, obs.Plate)
	if !ok {
		c.log.WithFields(logrus.Fields{
			"country": country,
		}).Debug("No municipality match for plate")
		return false
	}

	obs.Municipality = &code
	c.log.WithFields(logrus.Fields{
		"country":      country,
		"code":         code,
		"state":        entry.State,
		"municipality": entry.Municipality,
	}).Debug("Municipality resolved")

	return true
}
