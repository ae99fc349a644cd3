package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maxstrauch/theia/pkg/bytecode"
	"github.com/maxstrauch/theia/vm"
)

// parseAssignments parses "x1=5,x2=-3". The register prefix is optional
// and case-insensitive, so "1=5" and "X1=5" are accepted as well.
func parseAssignments(s string) ([]vm.Cell, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var cells []vm.Cell
	for _, part := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("invalid register assignment %q (want xN=VALUE)", part)
		}
		name = strings.TrimSpace(name)
		name = strings.TrimPrefix(strings.ToLower(name), "x")

		index, err := strconv.ParseUint(name, 10, 32)
		if err != nil || int64(index) > bytecode.MaxValue {
			return nil, fmt.Errorf("invalid register %q", part)
		}
		v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value in %q: %w", part, err)
		}
		cells = append(cells, vm.Cell{Index: uint32(index), Value: v})
	}
	return cells, nil
}
