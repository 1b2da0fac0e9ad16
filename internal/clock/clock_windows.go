//go:build windows

package clock

import "golang.org/x/sys/windows"

var perfFrequency = func() int64 {
	var freq int64
	_ = windows.QueryPerformanceFrequency(&freq)
	if freq == 0 {
		freq = 1
	}
	return freq
}()

func monotonicSeconds() float64 {
	var counter int64
	if err := windows.QueryPerformanceCounter(&counter); err != nil {
		return 0
	}
	return float64(counter) / float64(perfFrequency)
}
