package frameio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/frameplay/internal/cloud"
)

// PLYFormat is the body encoding of a PLY file.
type PLYFormat int

const (
	// PLYAscii is whitespace separated text, one vertex per line.
	PLYAscii PLYFormat = iota
	// PLYBinaryLittleEndian is packed little endian binary.
	PLYBinaryLittleEndian
	// PLYBinaryBigEndian is packed big endian binary.
	PLYBinaryBigEndian
)

var plyFormatNames = map[string]PLYFormat{
	"ascii":                PLYAscii,
	"binary_little_endian": PLYBinaryLittleEndian,
	"binary_big_endian":    PLYBinaryBigEndian,
}

var plyScalarTypes = map[string]scalar{
	"char":    {kindInt, 1},
	"int8":    {kindInt, 1},
	"uchar":   {kindUint, 1},
	"uint8":   {kindUint, 1},
	"short":   {kindInt, 2},
	"int16":   {kindInt, 2},
	"ushort":  {kindUint, 2},
	"uint16":  {kindUint, 2},
	"int":     {kindInt, 4},
	"int32":   {kindInt, 4},
	"uint":    {kindUint, 4},
	"uint32":  {kindUint, 4},
	"float":   {kindFloat, 4},
	"float32": {kindFloat, 4},
	"double":  {kindFloat, 8},
	"float64": {kindFloat, 8},
}

type plyProperty struct {
	name   string
	scalar scalar
	list   bool
}

type plyElement struct {
	name       string
	count      int
	properties []plyProperty
}

// rowSize returns the packed byte size of one row, or -1 if the element has
// a list property and therefore no fixed size.
func (e plyElement) rowSize() int {
	n := 0
	for _, p := range e.properties {
		if p.list {
			return -1
		}
		n += p.scalar.size
	}
	return n
}

func (e plyElement) index(name string) int {
	for i, p := range e.properties {
		if p.name == name {
			return i
		}
	}
	return -1
}

type plyHeader struct {
	format   PLYFormat
	elements []plyElement
}

func readPLYHeader(in *bufio.Reader) (plyHeader, error) {
	var h plyHeader
	formatSeen := false

	magic, err := readHeaderLine(in)
	if err != nil {
		return h, malformedf("reading magic: %v", err)
	}
	if magic != "ply" {
		return h, malformedf("missing ply magic, got %q", magic)
	}

	for {
		line, err := readHeaderLine(in)
		if err != nil {
			return h, malformedf("reading header: %v", err)
		}
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}

		switch tokens[0] {
		case "comment", "obj_info":
			continue
		case "format":
			if len(tokens) != 3 {
				return h, malformedf("invalid format line %q", line)
			}
			f, ok := plyFormatNames[tokens[1]]
			if !ok {
				return h, fmt.Errorf("%w: ply format %q", ErrUnsupportedFormat, tokens[1])
			}
			if tokens[2] != "1.0" {
				return h, fmt.Errorf("%w: ply version %q", ErrUnsupportedFormat, tokens[2])
			}
			h.format = f
			formatSeen = true
		case "element":
			if len(tokens) != 3 {
				return h, malformedf("invalid element line %q", line)
			}
			count, err := strconv.Atoi(tokens[2])
			if err != nil || count < 0 {
				return h, malformedf("invalid element count %q", tokens[2])
			}
			h.elements = append(h.elements, plyElement{name: tokens[1], count: count})
		case "property":
			if len(h.elements) == 0 {
				return h, malformedf("property before any element")
			}
			el := &h.elements[len(h.elements)-1]
			if len(tokens) == 5 && tokens[1] == "list" {
				el.properties = append(el.properties, plyProperty{name: tokens[4], list: true})
				continue
			}
			if len(tokens) != 3 {
				return h, malformedf("invalid property line %q", line)
			}
			s, ok := plyScalarTypes[tokens[1]]
			if !ok {
				return h, malformedf("unknown property type %q", tokens[1])
			}
			el.properties = append(el.properties, plyProperty{name: tokens[2], scalar: s})
		case "end_header":
			if !formatSeen {
				return h, malformedf("missing format line")
			}
			return h, nil
		default:
			return h, malformedf("unexpected header line %q", line)
		}
	}
}

// ReadPLY decodes the vertex element of a PLY stream into dst.
// Properties x, y and z are required; intensity is kept when present.
// Elements that follow the vertex element are not read.
func ReadPLY(r io.Reader, dst *cloud.PointCloud) error {
	in, ok := r.(*bufio.Reader)
	if !ok {
		in = bufio.NewReader(r)
	}

	h, err := readPLYHeader(in)
	if err != nil {
		return err
	}

	var order binary.ByteOrder = binary.LittleEndian
	if h.format == PLYBinaryBigEndian {
		order = binary.BigEndian
	}

	for _, el := range h.elements {
		if el.name != "vertex" {
			if err := skipPLYElement(in, el, h.format); err != nil {
				return err
			}
			continue
		}
		return readPLYVertices(in, el, h.format, order, dst)
	}
	return malformedf("no vertex element")
}

func skipPLYElement(in *bufio.Reader, el plyElement, format PLYFormat) error {
	if format == PLYAscii {
		for i := 0; i < el.count; i++ {
			if _, err := readDataLine(in); err != nil {
				return malformedf("element %s row %d: %v", el.name, i, err)
			}
		}
		return nil
	}
	size := el.rowSize()
	if size < 0 {
		return fmt.Errorf("%w: binary list element %q before vertex", ErrUnsupportedFormat, el.name)
	}
	if size > 0 && el.count > math.MaxInt/size {
		return malformedf("element %s: %d rows of %d bytes", el.name, el.count, size)
	}
	if _, err := in.Discard(size * el.count); err != nil {
		return malformedf("element %s: %v", el.name, err)
	}
	return nil
}

func readPLYVertices(in *bufio.Reader, el plyElement, format PLYFormat, order binary.ByteOrder, dst *cloud.PointCloud) error {
	xi, yi, zi := el.index("x"), el.index("y"), el.index("z")
	if xi < 0 || yi < 0 || zi < 0 {
		return malformedf("vertex element lacks x/y/z properties")
	}
	ii := el.index("intensity")

	reserve(dst, el.count)
	if format == PLYAscii {
		for i := 0; i < el.count; i++ {
			line, err := readDataLine(in)
			if err != nil {
				return malformedf("vertex %d: %v", i, err)
			}
			tokens := strings.Fields(line)
			if len(tokens) < len(el.properties) {
				return malformedf("vertex %d has %d values, want %d", i, len(tokens), len(el.properties))
			}
			var v [4]float64
			for j, idx := range [4]int{xi, yi, zi, ii} {
				if idx < 0 {
					continue
				}
				v[j], err = strconv.ParseFloat(tokens[idx], 64)
				if err != nil {
					return malformedf("vertex %d field %s: %v", i, el.properties[idx].name, err)
				}
			}
			addPoint(dst, v, ii >= 0)
		}
		return nil
	}

	if el.rowSize() < 0 {
		return fmt.Errorf("%w: list property in binary vertex element", ErrUnsupportedFormat)
	}
	offsets := make([]int, len(el.properties))
	row := 0
	for j, p := range el.properties {
		offsets[j] = row
		row += p.scalar.size
	}

	buf := make([]byte, row)
	for i := 0; i < el.count; i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return malformedf("vertex %d: %v", i, err)
		}
		var v [4]float64
		for j, idx := range [4]int{xi, yi, zi, ii} {
			if idx < 0 {
				continue
			}
			v[j] = el.properties[idx].scalar.decode(buf[offsets[idx]:], order)
		}
		addPoint(dst, v, ii >= 0)
	}
	return nil
}

func addPoint(dst *cloud.PointCloud, v [4]float64, withIntensity bool) {
	p := r3.Vec{X: v[0], Y: v[1], Z: v[2]}
	if withIntensity {
		dst.AddWithIntensity(p, float32(v[3]))
		return
	}
	dst.Add(p)
}

// WritePLY encodes pc as a PLY stream with float x/y/z properties, plus a
// float intensity property when every point carries one.
func WritePLY(w io.Writer, pc *cloud.PointCloud, format PLYFormat) error {
	var formatName string
	for name, f := range plyFormatNames {
		if f == format {
			formatName = name
		}
	}
	if formatName == "" {
		return fmt.Errorf("%w: ply format %d", ErrUnsupportedFormat, format)
	}

	withIntensity := pc.HasIntensity()
	var hdr strings.Builder
	hdr.WriteString("ply\n")
	fmt.Fprintf(&hdr, "format %s 1.0\n", formatName)
	fmt.Fprintf(&hdr, "element vertex %d\n", pc.Len())
	hdr.WriteString("property float x\nproperty float y\nproperty float z\n")
	if withIntensity {
		hdr.WriteString("property float intensity\n")
	}
	hdr.WriteString("end_header\n")
	if _, err := io.WriteString(w, hdr.String()); err != nil {
		return err
	}

	if format == PLYAscii {
		for i, p := range pc.Points {
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

	var order binary.ByteOrder = binary.LittleEndian
	if format == PLYBinaryBigEndian {
		order = binary.BigEndian
	}
	for i, p := range pc.Points {
		row := []float32{float32(p.X), float32(p.Y), float32(p.Z)}
		if withIntensity {
			row = append(row, pc.Intensity[i])
		}
		if err := binary.Write(w, order, row); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat32(v float64) string {
	return strconv.FormatFloat(float64(float32(v)), 'g', -1, 32)
}

// readHeaderLine reads one header line without its line terminator.
func readHeaderLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readDataLine returns the next non-blank body line.
func readDataLine(in *bufio.Reader) (string, error) {
	for {
		line, err := in.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			return line, nil
		}
		if err != nil {
			if err == io.EOF {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
	}
}
