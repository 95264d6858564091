/*
Package riffline contains the data model of a collaborative, multi-track clip
editor: tracks, the items (clips) placed on them, the chord progression and the
project settings.

The types in this package are plain values with deep Copy methods and YAML
tags. Every type that has invariants provides a Normalize method that clamps
invalid values into range instead of reporting errors; the timeline package
funnels every mutation through these methods, so no un-normalized item is ever
stored.
*/
package riffline
