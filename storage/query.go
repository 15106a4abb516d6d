package storage

import "strconv"

// PrepQuery converts the mysql placeholder syntax into the pg one when driver requires it
func PrepQuery(driver SQLDriver, query string) string {
	if driver != PGDriver {
		return query
	}

	counter := 1
	res := make([]byte, 0, len(query))

	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			res = append(res, '$')
			res = append(res, strconv.Itoa(counter)...)
			counter++
			continue
		}

		res = append(res, query[i])
	}

	return string(res)
}
