package decoder

// Run drives the decoder thread: wait for a Start command, hand a
// fresh Bridge to plugin for the duration of one song, then return to
// waiting. Intended to run in its own goroutine for the lifetime of
// the engine; returns only when stop is closed.
func Run(ctl *Control, plugin Plugin, stop <-chan struct{}) {
	for {
		ctl.mu.Lock()
		for ctl.command != CommandStart {
			select {
			case <-stop:
				ctl.mu.Unlock()
				return
			default:
			}
			ctl.Cond.Wait()
		}
		song := ctl.song
		ctl.command = CommandNone
		ctl.state = StateStart
		ctl.Cond.Broadcast()
		ctl.mu.Unlock()

		bridge := NewBridge(ctl)
		err := plugin.Decode(bridge, song.URI)

		ctl.mu.Lock()
		bridge.reArmPipeOnExit()
		if err != nil {
			ctl.err = err
			ctl.state = StateError
		} else if ctl.state != StateStop {
			ctl.state = StateStop
		}
		ctl.command = CommandNone
		ctl.Cond.Broadcast()
		ctl.mu.Unlock()
	}
}
