package es

import "log/slog"

// Version is the position of an event within its aggregate. The first event
// of an aggregate has version 1; an aggregate without events is at 0. Domains
// share the version counter of their aggregate.
type Version uint64

func (v Version) Uint64() uint64                         { return uint64(v) }
func (v Version) Next() Version                          { return v + 1 }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }
