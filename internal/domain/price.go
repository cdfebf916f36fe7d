package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Price is an exact decimal amount.
type Price struct {
	r *big.Rat
}

// ParsePrice parses a plain decimal string such as "1234.56".
func ParsePrice(s string) (*Price, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return nil, fmt.Errorf("invalid decimal %q", s)
	}
	return &Price{r: r}, nil
}

func MustParsePrice(s string) *Price {
	p, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Price) Sign() int {
	return p.r.Sign()
}

func (p *Price) Cmp(o *Price) int {
	return p.r.Cmp(o.r)
}

// String renders the amount with two decimal places.
func (p *Price) String() string {
	if p == nil || p.r == nil {
		return ""
	}
	return p.r.FloatString(2)
}

func (p *Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Price) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePrice(s)
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}
