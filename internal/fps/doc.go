// Package fps defines the boundary to the FPS3010 control library.
//
// The vendor library manages discovery, device locking and position sampling
// for FPS3010 interferometers on USB and ethernet. Every call returns one of
// a fixed set of status codes; this package names those codes, translates
// them to the operator-facing texts, and declares the SDK interface that the
// driver calls into.
//
// The library is not safe for concurrent use, not even for calls that
// address different devices. Serialized puts one lock around every call;
// all users of a library in a process must share it.
package fps
