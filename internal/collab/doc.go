// Package collab coordinates presence inside one collaboration room.
//
// A Room joins the room through the shared event bus, tracks the roster of
// remote collaborators with their cursor, selection and typing state, and
// forwards document updates made by others. Rooms never touch the
// transport; every frame goes through the bus.
package collab
