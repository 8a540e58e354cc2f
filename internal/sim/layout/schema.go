package layout

// schemaCUE constrains the decoded YAML document before it is bound to Go types.
const schemaCUE = `
#Coord: [int, int]

#Belt: {
	id:          string & =~"^[^./\\s]+$"
	pos:         #Coord
	dir:         "N" | "E" | "S" | "W"
	tier?:       "REGULAR" | "FAST" | "EXPRESS" | "TURBO"
	length?:     int & >=1 & <=65536
	exit?:       "HOLD" | "CONSUME"
	left_next?:  #Coord
	right_next?: #Coord
}

#Item: {
	lane:  string & !=""
	pos:   int & >=0
	id?:   string
	kind?: string
}

#Layout: {
	world_id?:       string
	default_length?: int & >=1 & <=65536
	auto_link?:      bool
	belts: [#Belt, ...#Belt]
	items?: [...#Item]
}
`
