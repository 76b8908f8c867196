/*
Package input synthesizes touch gestures by writing raw kernel input events to an evdev device file.

Every logical touch update is a batch of records terminated by a SYN_REPORT: the multi-touch X and Y positions, then (for touch-down and touch-up) a BTN_TOUCH key event, then the sync. Moves between a touch-down and a touch-up carry only positions and the sync.

The device path must point at the touchscreen's event device. On Android, `getevent -pl` lists devices; pick the one reporting ABS_MT_POSITION_X and ABS_MT_POSITION_Y.

The bridge server only accepts tap and swipe commands when built with the `directinput` build tag, see Enabled.
The server-level gesture tests only exercise real device writes in that build, so run the suite both ways:

	go test ./...
	go test -tags directinput ./...
*/
package input
