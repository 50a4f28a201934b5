package v1

import "net/http"

func Web() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		html := `
<!DOCTYPE html>
<html>
<head>
    <title>File Store</title>
    <style>
        form {
            margin: 20px;
        }
        .form-group {
            margin-bottom: 10px;
        }
    </style>
</head>
<body>
    <form id="uploadForm" onsubmit="uploadFile(event)">
        <div class="form-group">
            <label for="ownerInput">Owner:</label>
            <input type="text" id="ownerInput">
        </div>
        <div class="form-group">
            <label for="fileInput">Select file:</label>
            <input type="file" id="fileInput" required>
        </div>
        <div class="form-group">
            <input type="submit" value="Upload File">
        </div>
    </form>
    <p id="result"></p>

    <script>
    function uploadFile(event) {
        event.preventDefault();

        const fileInput = document.getElementById('fileInput');
        const file = fileInput.files[0];

        if (!file) {
            alert('Please select a file first');
            return;
        }

        const form = new FormData();
        form.append('name', file.name);
        form.append('owner', document.getElementById('ownerInput').value);
        form.append('bytes', file);

        fetch('/', {
            method: 'POST',
            body: form
        })
        .then(response => response.json().then(body => ({ ok: response.ok, body: body })))
        .then(({ ok, body }) => {
            const result = document.getElementById('result');
            if (ok) {
                result.innerHTML = '<a href="/' + body.id + '">' + body.id + '</a> (<a href="/' + body.id + '/info">info</a>)';
                document.getElementById('uploadForm').reset();
            } else {
                result.textContent = 'Upload failed: ' + body.message;
            }
        })
        .catch(error => {
            console.error('Error:', error);
            alert('Upload failed');
        });
    }
    </script>
</body>
</html>`

		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
	}
}
