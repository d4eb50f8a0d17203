package tunnel

import (
	"net"
	"os"
	"sync"
)

const bridgeBufferSize = 32 * 1024

// bridge pairs a TCP socket with a PTY master so bytes flow in both
// directions until either side ends. Four units run concurrently: two
// socket halves and two blocking PTY halves, handing bytes across
// channels rather than shared buffers. The first socket half to finish
// wins: both endpoints are then closed, which unblocks the PTY halves,
// and everything is joined before bridge returns.
func bridge(conn net.Conn, ptmx *os.File) {
	toPty := make(chan []byte, 64)
	toSock := make(chan []byte, 64)
	halfDone := make(chan struct{}, 2)
	stop := make(chan struct{})

	var remaining sync.WaitGroup

	// Socket -> channel.
	go func() {
		defer close(toPty)
		defer func() { halfDone <- struct{}{} }()
		buf := make([]byte, bridgeBufferSize)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case toPty <- data:
				case <-stop:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Channel -> PTY (blocking writer).
	remaining.Add(1)
	go func() {
		defer remaining.Done()
		for data := range toPty {
			if _, err := ptmx.Write(data); err != nil {
				return
			}
		}
	}()

	// PTY -> channel (blocking reader).
	remaining.Add(1)
	go func() {
		defer remaining.Done()
		defer close(toSock)
		buf := make([]byte, bridgeBufferSize)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case toSock <- data:
				case <-stop:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Channel -> socket.
	go func() {
		defer func() { halfDone <- struct{}{} }()
		for data := range toSock {
			if _, err := conn.Write(data); err != nil {
				return
			}
		}
	}()

	<-halfDone

	// Closing both endpoints unblocks whichever blocking half is still
	// sitting in a read; the stop channel unwedges senders parked on a
	// full channel.
	close(stop)
	_ = conn.Close()
	_ = ptmx.Close()

	remaining.Wait()
}
