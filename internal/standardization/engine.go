package standardization

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/aegisshield/network-intel/internal/models"
	"github.com/bbalet/stopwords"
	"github.com/kljensen/snowball"
)

var (
	nonDigit           = regexp.MustCompile(`\D`)
	namePunctuation    = regexp.MustCompile(`[^\p{L}\p{N}\s-]`)
	addressPunctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	whitespace         = regexp.MustCompile(`\s+`)
)

// legalSuffixes are removed from names as whole words
var legalSuffixes = map[string]bool{
	"llc": true, "inc": true, "incorporated": true, "corp": true, "corporation": true,
	"co": true, "company": true, "ltd": true, "limited": true, "pc": true, "pllc": true,
	"lp": true, "llp": true, "pa": true, "plc": true,
}

// addressAbbreviations expands street and directional abbreviations word by word
var addressAbbreviations = map[string]string{
	"st":   "street",
	"str":  "street",
	"ave":  "avenue",
	"av":   "avenue",
	"rd":   "road",
	"blvd": "boulevard",
	"dr":   "drive",
	"ln":   "lane",
	"ct":   "court",
	"pl":   "place",
	"sq":   "square",
	"ter":  "terrace",
	"pkwy": "parkway",
	"hwy":  "highway",
	"expy": "expressway",
	"tpke": "turnpike",
	"ste":  "suite",
	"apt":  "apartment",
	"fl":   "floor",
	"flr":  "floor",
	"bldg": "building",
	"rm":   "room",
	"n":    "north",
	"s":    "south",
	"e":    "east",
	"w":    "west",
	"ne":   "northeast",
	"nw":   "northwest",
	"se":   "southeast",
	"sw":   "southwest",
}

// NormalizedFields is the comparison-ready view of an EntityRecord
type NormalizedFields struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	Phone        string `json:"phone"`
	Zip          string `json:"zip"`
	NationalID   string `json:"national_id"`
	Specialty    string `json:"specialty"`
	FacilityType string `json:"facility_type"`
}

// AddressKey is the grouping key for co-location: normalized address plus ZIP5
func (n NormalizedFields) AddressKey() string {
	if n.Address == "" {
		return ""
	}
	return n.Address + "|" + n.Zip
}

// NormalizedEntity pairs a record with its normalized view
type NormalizedEntity struct {
	Record models.EntityRecord
	Fields NormalizedFields
}

// Engine handles data standardization for entity resolution
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a new standardization engine
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger: logger,
	}
}

// Normalize derives the comparison view of a record. It never fails.
func (e *Engine) Normalize(record models.EntityRecord) NormalizedFields {
	return NormalizedFields{
		Name:         e.NormalizeName(record.Name),
		Address:      e.NormalizeAddress(record.Address),
		Phone:        e.NormalizePhone(record.Phone),
		Zip:          e.Zip5(record.Zip),
		NationalID:   e.NormalizeNationalID(record.NationalID),
		Specialty:    e.NormalizeCategory(record.Specialty),
		FacilityType: e.NormalizeCategory(record.FacilityType),
	}
}

// NormalizeAll normalizes a population, preserving order
func (e *Engine) NormalizeAll(records []models.EntityRecord) []NormalizedEntity {
	out := make([]NormalizedEntity, len(records))
	for i, r := range records {
		out[i] = NormalizedEntity{Record: r, Fields: e.Normalize(r)}
	}
	e.logger.Debug("Normalized entity population", "entities", len(records))
	return out
}

// NormalizeName lowercases, strips punctuation except hyphens and drops legal suffixes
func (e *Engine) NormalizeName(name string) string {
	if name == "" {
		return ""
	}

	name = strings.ToLower(name)
	name = namePunctuation.ReplaceAllString(name, "")

	tokens := strings.Fields(name)
	kept := tokens[:0]
	for _, token := range tokens {
		if !legalSuffixes[token] {
			kept = append(kept, token)
		}
	}

	return strings.Join(kept, " ")
}

// NormalizePhone returns the 10-digit NANP number or empty
func (e *Engine) NormalizePhone(phone string) string {
	digits := nonDigit.ReplaceAllString(phone, "")
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return ""
	}
	return digits
}

// NormalizeAddress lowercases, strips punctuation and expands abbreviations
func (e *Engine) NormalizeAddress(address string) string {
	if address == "" {
		return ""
	}

	address = strings.ToLower(address)
	address = addressPunctuation.ReplaceAllString(address, " ")

	tokens := strings.Fields(address)
	for i, token := range tokens {
		if expanded, ok := addressAbbreviations[token]; ok {
			tokens[i] = expanded
		}
	}

	return strings.Join(tokens, " ")
}

// Zip5 returns up to the first five digits of a ZIP code
func (e *Engine) Zip5(zip string) string {
	digits := nonDigit.ReplaceAllString(zip, "")
	if len(digits) > 5 {
		digits = digits[:5]
	}
	return digits
}

// NormalizeNationalID keeps NPI-shaped identifiers (10 digits) only
func (e *Engine) NormalizeNationalID(id string) string {
	digits := nonDigit.ReplaceAllString(id, "")
	if len(digits) != 10 {
		return ""
	}
	return digits
}

// NormalizeCategory canonicalizes specialty and facility-type labels so that
// "Home Health Agencies" and "home health agency" compare equal.
func (e *Engine) NormalizeCategory(value string) string {
	value = strings.TrimSpace(whitespace.ReplaceAllString(strings.ToLower(value), " "))
	if value == "" {
		return ""
	}

	tokens := strings.Fields(stopwords.CleanString(value, "en", false))
	if len(tokens) == 0 {
		// all stopwords, keep the literal label
		return value
	}

	for i, token := range tokens {
		stemmed, err := snowball.Stem(token, "english", true)
		if err != nil {
			e.logger.Debug("Stemming failed", "token", token, "error", err)
			continue
		}
		tokens[i] = stemmed
	}

	return strings.Join(tokens, " ")
}
