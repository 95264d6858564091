/*
Package timeline contains the editable in-memory state of a riffline project
and the gesture controllers that manipulate it.

The Model holds the tracks, the items and the chord progression, and is the
single source of truth for the rest of the program. Every mutation goes
through item and track normalization, and every mutation is announced to the
registered Listeners as a Change tagged with its Origin, so that local edits
can be persisted and broadcast while edits received from collaborators are
applied without being sent back.

Pointer gestures are handled by DragController and ResizeController. While a
gesture is in progress only the Ghost (the ephemeral render state) of the
item is updated; the model is written exactly once, when the gesture ends,
after pushing an undo snapshot and resolving overlaps with ResolveOverlaps.

The undo/redo history is reached with model.History(), e.g.
model.History().Undo() returns an Action that can be executed with Do().
*/
package timeline
