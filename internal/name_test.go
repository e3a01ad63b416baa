package internal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ThreeDotsLabs/rabbit/internal"
)

type testDialer struct{}

type namedDialer struct{}

func (namedDialer) String() string {
	return "named-dialer"
}

func TestStructName(t *testing.T) {
	testCases := []struct {
		Name         string
		Struct       interface{}
		ExpectedName string
	}{
		{
			Name:         "simple_struct",
			Struct:       testDialer{},
			ExpectedName: "internal_test.testDialer",
		},
		{
			Name:         "pointer_struct",
			Struct:       &testDialer{},
			ExpectedName: "internal_test.testDialer",
		},
		{
			Name:         "stringer",
			Struct:       namedDialer{},
			ExpectedName: "named-dialer",
		},
		{
			Name:         "nil",
			Struct:       nil,
			ExpectedName: "none",
		},
	}

	for _, c := range testCases {
		t.Run(c.Name, func(t *testing.T) {
			assert.Equal(t, c.ExpectedName, internal.StructName(c.Struct))
		})
	}
}
