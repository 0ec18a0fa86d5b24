package lifelink

import (
	"errors"
	"strings"
)

// BloodGroup is one of the eight ABO/Rh combinations.
type BloodGroup string

const (
	APositive  BloodGroup = "A+"
	ANegative  BloodGroup = "A-"
	BPositive  BloodGroup = "B+"
	BNegative  BloodGroup = "B-"
	ABPositive BloodGroup = "AB+"
	ABNegative BloodGroup = "AB-"
	OPositive  BloodGroup = "O+"
	ONegative  BloodGroup = "O-"
)

// ErrUnknownBloodGroup is returned when input does not name one of the eight groups.
var ErrUnknownBloodGroup = errors.New("lifelink: unknown blood group")

// AllBloodGroups lists every group in a stable display order.
var AllBloodGroups = []BloodGroup{
	APositive, ANegative, BPositive, BNegative, ABPositive, ABNegative, OPositive, ONegative,
}

// recipientsOf is the donor -> recipient matrix used in transfusion practice.
var recipientsOf = map[BloodGroup][]BloodGroup{
	ONegative:  {ONegative, OPositive, ANegative, APositive, BNegative, BPositive, ABNegative, ABPositive},
	OPositive:  {OPositive, APositive, BPositive, ABPositive},
	ANegative:  {ANegative, APositive, ABNegative, ABPositive},
	APositive:  {APositive, ABPositive},
	BNegative:  {BNegative, BPositive, ABNegative, ABPositive},
	BPositive:  {BPositive, ABPositive},
	ABNegative: {ABNegative, ABPositive},
	ABPositive: {ABPositive},
}

// donorsOf is the inverse of recipientsOf, derived once so both directions always agree.
var donorsOf = invert(recipientsOf)

func invert(matrix map[BloodGroup][]BloodGroup) map[BloodGroup][]BloodGroup {
	out := make(map[BloodGroup][]BloodGroup, len(matrix))
	for _, donor := range AllBloodGroups {
		for _, recipient := range matrix[donor] {
			out[recipient] = append(out[recipient], donor)
		}
	}
	return out
}

// ParseBloodGroup normalises user input such as "o-", "O−" or "O_NEGATIVE".
func ParseBloodGroup(value string) (BloodGroup, error) {
	v := strings.ToUpper(strings.TrimSpace(value))
	v = strings.ReplaceAll(v, "−", "-")
	v = strings.ReplaceAll(v, " ", "")

	switch {
	case strings.HasSuffix(v, "_POSITIVE"):
		v = strings.TrimSuffix(v, "_POSITIVE") + "+"
	case strings.HasSuffix(v, "_NEGATIVE"):
		v = strings.TrimSuffix(v, "_NEGATIVE") + "-"
	}

	group := BloodGroup(v)
	if !group.Valid() {
		return "", ErrUnknownBloodGroup
	}
	return group, nil
}

// Valid reports whether g is one of the eight known groups.
func (g BloodGroup) Valid() bool {
	_, ok := recipientsOf[g]
	return ok
}

func (g BloodGroup) String() string { return string(g) }

// CompatibleRecipients returns the groups a donor of group g can give to.
func CompatibleRecipients(g BloodGroup) []BloodGroup {
	return clone(recipientsOf[g])
}

// CompatibleDonors returns the groups that can give to a recipient of group g.
func CompatibleDonors(g BloodGroup) []BloodGroup {
	return clone(donorsOf[g])
}

// CanDonate reports whether donor blood can be transfused into recipient.
func CanDonate(donor, recipient BloodGroup) bool {
	for _, g := range recipientsOf[donor] {
		if g == recipient {
			return true
		}
	}
	return false
}

// Strings converts groups into plain strings for query arguments.
func Strings(groups []BloodGroup) []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = string(g)
	}
	return out
}

func clone(groups []BloodGroup) []BloodGroup {
	if groups == nil {
		return nil
	}
	out := make([]BloodGroup, len(groups))
	copy(out, groups)
	return out
}
