// Package device holds the camera-facing primitives the supervisor consumes:
// the opaque device ID, the frame source contract, enumeration, hot-plug
// notification and freeing a device node held by another process.
//
// The concrete adapters shell out to ffmpeg for V4L2 MJPEG capture, glob
// /dev/video* for enumeration, listen to udev over netlink for hot-plug, and
// use gopsutil (with lsof/fuser as fallback) to find holder processes.
// Nothing here interprets slot state; the supervisor package owns that.
package device
