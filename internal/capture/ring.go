package capture

import "fmt"

const (
	tpacketAlignment = 16
	tpacketHdrLen    = 52 // TPACKET3_HDRLEN rounded, plus sockaddr_ll
	maxBlockSize     = 4 * 1024 * 1024
)

// ringGeometry fits a TPACKET_V3 ring around snapLen that stays close to the
// requested blockSize*numBlocks bytes:
//   - frameSize is a multiple of TPACKET_ALIGNMENT
//   - blockSize is a multiple of both pageSize and frameSize
//   - numBlocks is at least 1
func ringGeometry(snapLen, blockSize, numBlocks, pageSize int) (frame, block, blocks int, err error) {
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap_len must be positive, got %d", snapLen)
	}
	if blockSize <= 0 || numBlocks <= 0 {
		return 0, 0, 0, fmt.Errorf("ring size must be positive, got %d x %d", blockSize, numBlocks)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	total := blockSize * numBlocks
	frame = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	unit := lcm(pageSize, frame)
	block = alignUp(blockSize, unit)
	if block > maxBlockSize && unit <= maxBlockSize {
		block = (maxBlockSize / unit) * unit
	}

	blocks = total / block
	if blocks < 1 {
		blocks = 1
	}
	return frame, block, blocks, nil
}

func alignUp(n, to int) int {
	return ((n + to - 1) / to) * to
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return (a / gcd(a, b)) * b
}
