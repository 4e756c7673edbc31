package codec

// Write renders v depth-first. Strings only get `\` and `"` escaped; record
// members come out in the order they were built.
func Write(v Value) []byte {
	return AppendValue(nil, v)
}

func AppendValue(dst []byte, v Value) []byte {
	switch v.kind {
	case KindBool:
		if v.b {
			return append(dst, "true"...)
		}
		return append(dst, "false"...)
	case KindNumber:
		if v.text == "" {
			return append(dst, '0')
		}
		return append(dst, v.text...)
	case KindString:
		return appendString(dst, v.text)
	case KindVector:
		dst = append(dst, `{"x":`...)
		dst = appendNumber(dst, v.vec[0])
		dst = append(dst, `,"y":`...)
		dst = appendNumber(dst, v.vec[1])
		dst = append(dst, `,"z":`...)
		dst = appendNumber(dst, v.vec[2])
		return append(dst, '}')
	case KindArray:
		dst = append(dst, '[')
		for i, e := range v.elems {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = AppendValue(dst, e)
		}
		return append(dst, ']')
	case KindRecord:
		dst = append(dst, '{')
		for i, m := range v.members {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = appendString(dst, m.Name)
			dst = append(dst, ':')
			dst = AppendValue(dst, m.Value)
		}
		return append(dst, '}')
	default:
		return append(dst, "null"...)
	}
}

func appendNumber(dst []byte, text string) []byte {
	if text == "" {
		return append(dst, '0')
	}
	return append(dst, text...)
}

func appendString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '"':
			dst = append(dst, '\\', c)
		default:
			dst = append(dst, c)
		}
	}
	return append(dst, '"')
}
