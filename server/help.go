// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

// Static usage strings, overall and per-topic. An unknown topic gets
// the overall list, so help always succeeds.

const helpAll = "Available commands are:\n" +
	" help, list, readF, writeT, upload, download, archServer, quit, killServer\n"

var helpTopics = map[string]string{
	"help": "help [command]\n    display the list of possible requests, or the usage of one command\n",
	"list": "list\n    sends a request to display the list of files in the server's directory\n",
	"readF": "readF <file> <line #>\n" +
		"    requests to display the #th line of <file>; if no line number is given\n" +
		"    the whole contents of the file is requested\n",
	"writeT": "writeT <file> <line #> <string>\n" +
		"    requests to write <string> to the #th line of <file>; if the line number\n" +
		"    is -1 writes to the end of file. If the file does not exist in the\n" +
		"    server's directory it is created\n",
	"upload": "upload <file>\n" +
		"    uploads <file> from the client's working directory to the server's\n" +
		"    directory; fails if a file with the same name exists on the server side\n",
	"download": "download <file>\n" +
		"    requests to receive <file> from the server's directory to the client side\n",
	"archServer": "archServer <fileName>.tar\n" +
		"    collects all the files currently available on the server side and\n" +
		"    delivers them in the <fileName>.tar archive\n",
	"quit":       "quit\n    writes a disconnect record to the server log and quits\n",
	"killServer": "killServer\n    sends a kill request to the server\n",
}

func helpText(topic string) string {
	if text, ok := helpTopics[topic]; ok {
		return text
	}
	return helpAll
}
