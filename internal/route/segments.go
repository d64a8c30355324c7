// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package route

// CatchAll describes a segment matching one or more remaining path parts.
type CatchAll struct {
	Param    string `json:"param"`
	Optional bool   `json:"optional"`
}

// DynamicSegments lists the runtime parameters a path declares.
type DynamicSegments struct {
	Params   []string  `json:"params,omitempty"`
	CatchAll *CatchAll `json:"catchAll,omitempty"`
}

// detectSegments inspects directory segments, never the file name. The most
// specific pattern wins: optional catch-all, then catch-all, then dynamic.
// It returns nil when no segment is dynamic.
func (c *compiled) detectSegments(file string, segments []string) (*DynamicSegments, error) {
	var ds DynamicSegments
	found := false
	for _, seg := range segments {
		if m := c.optCatchAll.FindStringSubmatch(seg); m != nil {
			if ds.CatchAll != nil {
				return nil, ErrSegmentConflict(file, ds.CatchAll.Param, m[1])
			}
			ds.CatchAll = &CatchAll{Param: m[1], Optional: true}
			found = true
			continue
		}
		if m := c.catchAll.FindStringSubmatch(seg); m != nil {
			if ds.CatchAll != nil {
				return nil, ErrSegmentConflict(file, ds.CatchAll.Param, m[1])
			}
			ds.CatchAll = &CatchAll{Param: m[1]}
			found = true
			continue
		}
		if m := c.dynamic.FindStringSubmatch(seg); m != nil {
			ds.Params = append(ds.Params, m[1])
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	return &ds, nil
}
