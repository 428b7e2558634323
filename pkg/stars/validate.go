package stars

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cbodonnell/starminers/pkg/log"
	"github.com/goccy/go-json"
)

// legacyLocationField is the name older plugin versions used for location
const legacyLocationField = "loc"

// ParseReport decodes a report body and checks every entry against the
// sighting policy. The first failing entry rejects the whole batch.
// An empty body, null or an empty array is a ping and yields no sightings.
// now is Unix seconds and is used for every entry in the batch.
func ParseReport(body []byte, now int64) ([]Sighting, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var data interface{}
	if err := dec.Decode(&data); err != nil {
		return nil, invalid(fmt.Sprintf("malformed json: %v", err))
	}
	var trailing interface{}
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return nil, invalid("trailing data after report")
	}
	if data == nil {
		return nil, nil
	}
	entries, ok := data.([]interface{})
	if !ok {
		return nil, invalid("report is not a list")
	}

	sightings := make([]Sighting, 0, len(entries))
	for i, raw := range entries {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return nil, invalid(fmt.Sprintf("entry %d is not an object", i))
		}
		s, err := checkEntry(entry, now)
		if err != nil {
			return nil, err
		}
		sightings = append(sightings, s)
	}
	return sightings, nil
}

func checkEntry(entry map[string]interface{}, now int64) (Sighting, error) {
	// Older plugins send "loc". Only a non-null value overrides location.
	if loc, ok := entry[legacyLocationField]; ok && loc != nil {
		if n, ok := loc.(json.Number); ok && n.String() == "0" {
			log.Warn("Applying legacy loc=0; the unguarded shim would have ignored it")
		}
		entry["location"] = loc
	}

	location, err := strictInt(entry, "location")
	if err != nil {
		return Sighting{}, err
	}
	world, err := strictInt(entry, "world")
	if err != nil {
		return Sighting{}, err
	}
	minTime, err := strictInt(entry, "minTime")
	if err != nil {
		return Sighting{}, err
	}
	maxTime, err := strictInt(entry, "maxTime")
	if err != nil {
		return Sighting{}, err
	}

	if location < MinLocation || location > MaxLocation {
		return Sighting{}, invalid(fmt.Sprintf("unknown location %d", location))
	}
	if world < MinWorld || world > MaxWorld {
		return Sighting{}, invalid(fmt.Sprintf("unknown world %d", world))
	}
	if width := maxTime - minTime; width < MinWindow || width > MaxWindow {
		return Sighting{}, invalid(fmt.Sprintf("window width %d out of range", width))
	}
	if minTime >= maxTime {
		return Sighting{}, invalid("minTime not before maxTime")
	}
	if maxTime > now+FutureGrace {
		return Sighting{}, invalid("maxTime too far in the future")
	}
	if maxTime < now {
		return Sighting{}, invalid("maxTime in the past")
	}

	return Sighting{
		Location: location,
		World:    world,
		MinTime:  minTime,
		MaxTime:  maxTime,
	}, nil
}

// strictInt returns entry[field] if it is a JSON integer literal.
// Strings, floats, exponents and booleans are rejected.
func strictInt(entry map[string]interface{}, field string) (int64, error) {
	v, ok := entry[field]
	if !ok || v == nil {
		return 0, invalid(fmt.Sprintf("missing %s", field))
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, invalid(fmt.Sprintf("%s is not a number", field))
	}
	if strings.ContainsAny(n.String(), ".eE") {
		return 0, invalid(fmt.Sprintf("%s is not an integer", field))
	}
	i, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0, invalid(fmt.Sprintf("%s is not an integer", field))
	}
	return i, nil
}
