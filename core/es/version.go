package es

import "log/slog"

// Version is the position of an event within its stream. The first event of a
// stream has version 0; NoVersion means no event has been applied yet.
type Version int64

// NoVersion is the version of an aggregate with no applied events.
const NoVersion Version = -1

func (v Version) Int64() int64                           { return int64(v) }
func (v Version) IsNone() bool                           { return v < 0 }
func (v Version) Next() Version                          { return v + 1 }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Int64(key, int64(v)) }
