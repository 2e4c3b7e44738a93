package frameio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/frameplay/internal/cloud"
)

// PCDType is the DATA encoding of a PCD file.
type PCDType int

const (
	// PCDAscii is whitespace separated text, one point per line.
	PCDAscii PCDType = iota
	// PCDBinary is packed little endian rows.
	PCDBinary
)

type pcdField struct {
	name   string
	scalar scalar
	count  int
}

type pcdHeader struct {
	fields []pcdField
	width  int
	height int
	points int
	data   PCDType
}

func (h pcdHeader) index(name string) int {
	for i, f := range h.fields {
		if f.name == name {
			return i
		}
	}
	return -1
}

// offsets returns the byte offset of each field in a packed row, and the
// token offset of each field in an ascii row.
func (h pcdHeader) offsets() (byteOff, tokenOff []int, rowBytes, rowTokens int) {
	byteOff = make([]int, len(h.fields))
	tokenOff = make([]int, len(h.fields))
	for i, f := range h.fields {
		byteOff[i] = rowBytes
		tokenOff[i] = rowTokens
		rowBytes += f.scalar.size * f.count
		rowTokens += f.count
	}
	return byteOff, tokenOff, rowBytes, rowTokens
}

func readPCDHeader(in *bufio.Reader) (pcdHeader, error) {
	var h pcdHeader
	var sizes, counts []int
	var types []string
	pointsSeen := false

	for {
		line, err := readHeaderLine(in)
		if err != nil {
			return h, malformedf("reading header: %v", err)
		}
		line, _, _ = strings.Cut(line, "#")
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}

		key, values := tokens[0], tokens[1:]
		switch key {
		case "VERSION", "VIEWPOINT":
			// not needed for playback
		case "FIELDS":
			for _, name := range values {
				h.fields = append(h.fields, pcdField{name: name, count: 1})
			}
		case "SIZE":
			if sizes, err = parseInts(values); err != nil {
				return h, malformedf("SIZE: %v", err)
			}
		case "TYPE":
			types = values
		case "COUNT":
			if counts, err = parseInts(values); err != nil {
				return h, malformedf("COUNT: %v", err)
			}
		case "WIDTH", "HEIGHT", "POINTS":
			if len(values) != 1 {
				return h, malformedf("invalid %s line", key)
			}
			n, err := strconv.Atoi(values[0])
			if err != nil || n < 0 {
				return h, malformedf("invalid %s value %q", key, values[0])
			}
			switch key {
			case "WIDTH":
				h.width = n
			case "HEIGHT":
				h.height = n
			default:
				h.points = n
				pointsSeen = true
			}
		case "DATA":
			if len(values) != 1 {
				return h, malformedf("invalid DATA line")
			}
			switch values[0] {
			case "ascii":
				h.data = PCDAscii
			case "binary":
				h.data = PCDBinary
			default:
				return h, fmt.Errorf("%w: pcd data %q", ErrUnsupportedFormat, values[0])
			}
			if !pointsSeen {
				if h.height > 0 && h.width > math.MaxInt/h.height {
					return h, malformedf("WIDTH %d x HEIGHT %d overflows", h.width, h.height)
				}
				h.points = h.width * h.height
			}
			return h, h.resolveFields(sizes, types, counts)
		default:
			return h, malformedf("unexpected header line %q", line)
		}
	}
}

func (h *pcdHeader) resolveFields(sizes []int, types []string, counts []int) error {
	n := len(h.fields)
	if n == 0 {
		return malformedf("no FIELDS")
	}
	if len(sizes) != n || len(types) != n {
		return malformedf("SIZE/TYPE do not match %d fields", n)
	}
	if counts != nil && len(counts) != n {
		return malformedf("COUNT does not match %d fields", n)
	}
	for i := range h.fields {
		f := &h.fields[i]
		if counts != nil {
			f.count = counts[i]
		}
		switch types[i] {
		case "F":
			if sizes[i] != 4 && sizes[i] != 8 {
				return malformedf("field %s: float size %d", f.name, sizes[i])
			}
			f.scalar = scalar{kindFloat, sizes[i]}
		case "I", "U":
			if sizes[i] != 1 && sizes[i] != 2 && sizes[i] != 4 && sizes[i] != 8 {
				return malformedf("field %s: integer size %d", f.name, sizes[i])
			}
			kind := kindInt
			if types[i] == "U" {
				kind = kindUint
			}
			f.scalar = scalar{kind, sizes[i]}
		default:
			return malformedf("field %s: unknown type %q", f.name, types[i])
		}
	}
	return nil
}

// ReadPCD decodes a PCD stream into dst. Fields x, y and z are required;
// intensity is kept when present and every other field is skipped.
func ReadPCD(r io.Reader, dst *cloud.PointCloud) error {
	in, ok := r.(*bufio.Reader)
	if !ok {
		in = bufio.NewReader(r)
	}

	h, err := readPCDHeader(in)
	if err != nil {
		return err
	}

	wanted := [4]int{h.index("x"), h.index("y"), h.index("z"), h.index("intensity")}
	if wanted[0] < 0 || wanted[1] < 0 || wanted[2] < 0 {
		return malformedf("pcd lacks x/y/z fields")
	}
	withIntensity := wanted[3] >= 0
	byteOff, tokenOff, rowBytes, rowTokens := h.offsets()

	reserve(dst, h.points)
	if h.data == PCDAscii {
		for i := 0; i < h.points; i++ {
			line, err := readDataLine(in)
			if err != nil {
				return malformedf("point %d: %v", i, err)
			}
			tokens := strings.Fields(line)
			if len(tokens) != rowTokens {
				return malformedf("point %d has %d values, want %d", i, len(tokens), rowTokens)
			}
			var v [4]float64
			for j, idx := range wanted {
				if idx < 0 {
					continue
				}
				v[j], err = strconv.ParseFloat(tokens[tokenOff[idx]], 64)
				if err != nil {
					return malformedf("point %d field %s: %v", i, h.fields[idx].name, err)
				}
			}
			addPoint(dst, v, withIntensity)
		}
		return nil
	}

	buf := make([]byte, rowBytes)
	for i := 0; i < h.points; i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return malformedf("point %d: %v", i, err)
		}
		var v [4]float64
		for j, idx := range wanted {
			if idx < 0 {
				continue
			}
			v[j] = h.fields[idx].scalar.decode(buf[byteOff[idx]:], binary.LittleEndian)
		}
		addPoint(dst, v, withIntensity)
	}
	return nil
}

// WritePCD encodes pc as a version 0.7 PCD stream with float fields.
func WritePCD(w io.Writer, pc *cloud.PointCloud, data PCDType) error {
	withIntensity := pc.HasIntensity()
	fields, sizes, types, counts := "x y z", "4 4 4", "F F F", "1 1 1"
	if withIntensity {
		fields, sizes, types, counts = fields+" intensity", sizes+" 4", types+" F", counts+" 1"
	}
	dataName := "ascii"
	if data == PCDBinary {
		dataName = "binary"
	}

	n := pc.Len()
	header := fmt.Sprintf("# .PCD v0.7 - Point Cloud Data file format\n"+
		"VERSION 0.7\nFIELDS %s\nSIZE %s\nTYPE %s\nCOUNT %s\n"+
		"WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA %s\n",
		fields, sizes, types, counts, n, n, dataName)
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	for i, p := range pc.Points {
		if data == PCDBinary {
			row := []float32{float32(p.X), float32(p.Y), float32(p.Z)}
			if withIntensity {
				row = append(row, pc.Intensity[i])
			}
			if err := binary.Write(w, binary.LittleEndian, row); err != nil {
				return err
			}
			continue
		}
		line := formatFloat32(p.X) + " " + formatFloat32(p.Y) + " " + formatFloat32(p.Z)
		if withIntensity {
			line += " " + strconv.FormatFloat(float64(pc.Intensity[i]), 'g', -1, 32)
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func parseInts(values []string) ([]int, error) {
	out := make([]int, len(values))
	for i, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid value %q", v)
		}
		out[i] = n
	}
	return out, nil
}
