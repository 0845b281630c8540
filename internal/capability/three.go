package capability

import (
	"github.com/dop251/goja"
)

// threePrelude is a scene-description stand-in for the 3D library. Objects
// record their configuration; WebGLRenderer.render snapshots the scene into
// renderer.lastFrame so a client can draw it.
const threePrelude = `(function () {
  function Vec3(x, y, z) { this.x = x || 0; this.y = y || 0; this.z = z || 0; }
  Vec3.prototype.set = function (x, y, z) { this.x = x; this.y = y; this.z = z; return this; };
  Vec3.prototype.toJSON = function () { return [this.x, this.y, this.z]; };

  function Object3D(type) {
    this.type = type;
    this.position = new Vec3();
    this.rotation = new Vec3();
    this.scale = new Vec3(1, 1, 1);
    this.children = [];
  }
  Object3D.prototype.add = function () {
    for (var i = 0; i < arguments.length; i++) this.children.push(arguments[i]);
    return this;
  };
  Object3D.prototype.remove = function (o) {
    this.children = this.children.filter(function (c) { return c !== o; });
    return this;
  };

  function descriptor(type, names) {
    var C = function () {
      Object3D.call(this, type);
      this.args = Array.prototype.slice.call(arguments);
      for (var i = 0; i < names.length && i < arguments.length; i++) this[names[i]] = arguments[i];
    };
    C.prototype = Object.create(Object3D.prototype);
    C.prototype.constructor = C;
    return C;
  }

  var THREE = {
    Vector3: Vec3,
    Object3D: Object3D,
    Scene: descriptor("Scene", []),
    Group: descriptor("Group", []),
    PerspectiveCamera: descriptor("PerspectiveCamera", ["fov", "aspect", "near", "far"]),
    OrthographicCamera: descriptor("OrthographicCamera", ["left", "right", "top", "bottom", "near", "far"]),
    Mesh: descriptor("Mesh", ["geometry", "material"]),
    BoxGeometry: descriptor("BoxGeometry", ["width", "height", "depth"]),
    SphereGeometry: descriptor("SphereGeometry", ["radius", "widthSegments", "heightSegments"]),
    PlaneGeometry: descriptor("PlaneGeometry", ["width", "height"]),
    CylinderGeometry: descriptor("CylinderGeometry", ["radiusTop", "radiusBottom", "height"]),
    MeshBasicMaterial: descriptor("MeshBasicMaterial", ["parameters"]),
    MeshStandardMaterial: descriptor("MeshStandardMaterial", ["parameters"]),
    MeshPhongMaterial: descriptor("MeshPhongMaterial", ["parameters"]),
    AmbientLight: descriptor("AmbientLight", ["color", "intensity"]),
    DirectionalLight: descriptor("DirectionalLight", ["color", "intensity"]),
    PointLight: descriptor("PointLight", ["color", "intensity"]),
    Color: function (c) { this.value = c; }
  };

  function WebGLRenderer(options) {
    this.options = options || {};
    this.width = 0;
    this.height = 0;
    this.frames = 0;
    this.lastFrame = null;
    this.domElement = { type: "canvas" };
  }
  WebGLRenderer.prototype.setSize = function (w, h) { this.width = w; this.height = h; };
  WebGLRenderer.prototype.setPixelRatio = function () {};
  WebGLRenderer.prototype.setClearColor = function (c) { this.clearColor = c; };
  WebGLRenderer.prototype.render = function (scene, camera) {
    this.frames++;
    this.lastFrame = JSON.stringify({ scene: scene, camera: camera });
  };
  WebGLRenderer.prototype.dispose = function () { this.lastFrame = null; };
  THREE.WebGLRenderer = WebGLRenderer;

  return THREE;
})()`

func (b *builder) three() (goja.Value, error) {
	return b.rt.RunString(threePrelude)
}
