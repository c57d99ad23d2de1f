package postgres

func nullKey(key string) interface{} {
	if key == "" {
		return nil
	}
	return key
}

func jsonData(data []byte) []byte {
	if len(data) == 0 {
		return []byte("null")
	}
	return data
}
