package filter

import (
	"fmt"

	govcard "github.com/emersion/go-vcard"

	"github.com/davstore/davstore/internal/davxml"
)

// MatchCard reports whether card matches the addressbook-query filter.
// An empty filter matches everything.
func MatchCard(f davxml.AddressbookFilter, card govcard.Card) (bool, error) {
	if len(f.PropFilters) == 0 {
		return true, nil
	}

	switch f.Test {
	case "", "anyof":
		for _, pf := range f.PropFilters {
			ok, err := matchCardProp(pf, card)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "allof":
		for _, pf := range f.PropFilters {
			ok, err := matchCardProp(pf, card)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("filter: unsupported filter test %q", f.Test)
	}
}

func matchCardProp(f davxml.CardPropFilter, card govcard.Card) (bool, error) {
	fields := card[f.Name]
	if len(fields) == 0 {
		return f.IsNotDefined != nil, nil
	}
	if f.IsNotDefined != nil {
		return false, nil
	}

	for _, field := range fields {
		ok, err := matchCardField(f, field)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func matchCardField(f davxml.CardPropFilter, field *govcard.Field) (bool, error) {
	for _, pf := range f.ParamFilters {
		ok, err := matchCardParam(pf, field)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if len(f.TextMatches) == 0 {
		return true, nil
	}

	// The test attribute combines the text matches (RFC 6352 section
	// 10.5.1); anyof is the default.
	allof := f.Test == "allof"
	for _, tm := range f.TextMatches {
		ok, err := matchText(tm.Text, field.Value, tm.Collation, tm.MatchType, bool(tm.NegateCondition))
		if err != nil {
			return false, err
		}
		if allof && !ok {
			return false, nil
		}
		if !allof && ok {
			return true, nil
		}
	}
	return allof, nil
}

func matchCardParam(f davxml.CardParamFilter, field *govcard.Field) (bool, error) {
	var value string
	if field.Params != nil {
		value = field.Params.Get(f.Name)
	}
	if value == "" {
		return f.IsNotDefined != nil, nil
	}
	if f.IsNotDefined != nil {
		return false, nil
	}
	if f.TextMatch != nil {
		return matchText(f.TextMatch.Text, value,
			f.TextMatch.Collation, f.TextMatch.MatchType, bool(f.TextMatch.NegateCondition))
	}
	return true, nil
}
