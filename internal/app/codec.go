// Package app provides the concrete Application implementations (SAT,
// DUMMY) dispatched by jobsm.StateMachine: a variant Application plus a
// dispatch table for the appl_* hooks. Grounded on
// original_source/src/app/sat/cube/base_cube_sat_job.cpp for which hooks do
// real work versus are no-ops.
package app

import "encoding/binary"

// EncodeInt32s and DecodeInt32s are the exported forms of encodeCube and
// decodeCube, used by callers outside this package (the daemon's clause
// broadcast loop) that need to build the same wire payload a
// SATApplication's TagClauseExchange handler expects.
func EncodeInt32s(lits []int32) []byte { return encodeCube(lits) }
func DecodeInt32s(b []byte) []int32    { return decodeCube(b) }

// encodeCube serializes a cube's literals as a flat little-endian int32
// array for transport.Message.Payload.
func encodeCube(lits []int32) []byte {
	out := make([]byte, 4*len(lits))
	for i, l := range lits {
		binary.LittleEndian.PutUint32(out[4*i:], uint32(l))
	}
	return out
}

// decodeCube is the inverse of encodeCube.
func decodeCube(b []byte) []int32 {
	n := len(b) / 4
	out := make([]int32, n)
	for i := 0; i < n; i++ {
		out[i] = int32(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

// encodeCubes serializes a slice of cubes as [count][len0][lits0...][len1]...
func encodeCubes(cubes [][]int32) []byte {
	var out []byte
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(cubes)))
	out = append(out, header...)
	for _, c := range cubes {
		lenBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(c)))
		out = append(out, lenBuf...)
		out = append(out, encodeCube(c)...)
	}
	return out
}

func decodeCubes(b []byte) [][]int32 {
	if len(b) < 4 {
		return nil
	}
	count := int(binary.LittleEndian.Uint32(b))
	pos := 4
	out := make([][]int32, 0, count)
	for i := 0; i < count && pos+4 <= len(b); i++ {
		n := int(binary.LittleEndian.Uint32(b[pos:]))
		pos += 4
		end := pos + 4*n
		if end > len(b) {
			break
		}
		out = append(out, decodeCube(b[pos:end]))
		pos = end
	}
	return out
}
