// Package shell implements the IOC command shell: a registry of typed
// commands executed from startup scripts or an interactive prompt.
//
// Lines take either form
//
//	fpsConfigure FPS1 0
//	fpsConfigure("FPS1", 0)
//
// and '#' starts a comment.
package shell
